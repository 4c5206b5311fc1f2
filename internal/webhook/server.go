// Package webhook exposes call events and session inspection over HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/hubenschmidt/telecaller/internal/archive"
	"github.com/hubenschmidt/telecaller/internal/dispatch"
	"github.com/hubenschmidt/telecaller/internal/session"
	"github.com/hubenschmidt/telecaller/internal/voice"
)

// EventHandler turns a call event into a directive.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev voice.Event) voice.Directive
}

// ArchiveLoader reads archived calls.
type ArchiveLoader interface {
	Load(ctx context.Context, callID string) (archive.Record, error)
}

// Server is the HTTP handler for carrier webhooks and the call API.
type Server struct {
	handler  EventHandler
	lanes    *dispatch.Lanes
	sessions *session.Store
	archive  ArchiveLoader
	mux      *http.ServeMux
}

// NewServer wires the routes. lanes and archive may be nil: without lanes
// events run on the request goroutine, without an archive the archive route
// answers 503.
func NewServer(handler EventHandler, lanes *dispatch.Lanes, sessions *session.Store, arch ArchiveLoader) *Server {
	s := &Server{
		handler:  handler,
		lanes:    lanes,
		sessions: sessions,
		archive:  arch,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook/voice", s.eventRoute(voice.EventNewCall))
	s.mux.HandleFunc("POST /webhook/speech", s.eventRoute(voice.EventSpeech))
	s.mux.HandleFunc("POST /webhook/status", s.eventRoute(voice.EventStatus))
	s.mux.HandleFunc("POST /webhook/interrupt", s.eventRoute(voice.EventInterrupt))
	s.mux.HandleFunc("POST /webhook/continue", s.eventRoute(voice.EventContinue))
	s.mux.HandleFunc("GET /api/calls", s.handleCalls)
	s.mux.HandleFunc("GET /api/calls/{id}", s.handleCall)
	s.mux.HandleFunc("GET /api/calls/{id}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/archive/{id}", s.handleArchive)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_calls": s.sessions.Len()})
}

func (s *Server) eventRoute(kind voice.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := decodeEvent(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ev.Kind = kind
		if ev.CallID == "" {
			writeError(w, http.StatusBadRequest, "call_id is required")
			return
		}

		d, err := s.dispatch(r.Context(), ev)
		switch {
		case errors.Is(err, dispatch.ErrLaneFull):
			writeError(w, http.StatusTooManyRequests, "call is busy")
			return
		case errors.Is(err, dispatch.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		case err != nil:
			slog.Error("webhook event failed", "call_id", ev.CallID, "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) dispatch(ctx context.Context, ev voice.Event) (voice.Directive, error) {
	if s.lanes == nil {
		return s.handler.HandleEvent(ctx, ev), nil
	}
	var d voice.Directive
	err := s.lanes.Submit(ctx, ev.CallID, func(ctx context.Context) {
		d = s.handler.HandleEvent(ctx, ev)
	})
	if err != nil {
		// The job may still be running and writing d.
		return voice.Directive{}, err
	}
	return d, nil
}

// decodeEvent accepts a JSON voice.Event or carrier-style form fields.
func decodeEvent(r *http.Request) (voice.Event, error) {
	var ev voice.Event
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&ev)
		return ev, err
	}
	if err := r.ParseForm(); err != nil {
		return ev, err
	}
	ev.CallID = first(r.PostForm, "CallSid", "call_id")
	ev.From = first(r.PostForm, "From", "from")
	ev.Text = first(r.PostForm, "SpeechResult", "text")
	ev.Status = first(r.PostForm, "CallStatus", "status")
	ev.ResponseID = first(r.PostForm, "response_id", "ResponseId")
	if c := first(r.PostForm, "Confidence", "confidence"); c != "" {
		f, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return ev, err
		}
		ev.Confidence = f
	}
	return ev, nil
}

func first(form map[string][]string, keys ...string) string {
	for _, k := range keys {
		if v := form[k]; len(v) > 0 && v[0] != "" {
			return strings.TrimSpace(v[0])
		}
	}
	return ""
}

type callSummary struct {
	CallID            string `json:"call_id"`
	Status            string `json:"status"`
	State             string `json:"conversation_state"`
	Intent            string `json:"intent,omitempty"`
	TotalInteractions int    `json:"total_interactions"`
	LastActivity      string `json:"last_activity"`
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.IDs()
	out := make([]callSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := s.sessions.Get(id)
		if err != nil {
			continue
		}
		out = append(out, callSummary{
			CallID:            sess.ID,
			Status:            string(sess.Status),
			State:             string(sess.State),
			Intent:            string(sess.Intent),
			TotalInteractions: sess.TotalInteractions,
			LastActivity:      sess.LastActivity.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity > out[j].LastActivity })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	history := sess.History
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			history = sess.RecentHistory(n)
		}
	}
	if history == nil {
		history = []session.Message{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	rec, err := s.archive.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archived call not found")
		return
	}
	if err != nil {
		slog.Error("archive load failed", "call_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
