// Package conversation drives a call from greeting to hangup: it turns
// inbound events into playback directives, consulting the session store,
// the responder chain and the response player.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/telecaller/internal/archive"
	"github.com/hubenschmidt/telecaller/internal/metrics"
	"github.com/hubenschmidt/telecaller/internal/pipeline"
	"github.com/hubenschmidt/telecaller/internal/playback"
	"github.com/hubenschmidt/telecaller/internal/prompts"
	"github.com/hubenschmidt/telecaller/internal/session"
	"github.com/hubenschmidt/telecaller/internal/voice"
)

const (
	DefaultMinConfidence    = 0.3
	DefaultResponderTimeout = 30 * time.Second
)

// Archiver receives the final record of every call.
type Archiver interface {
	Submit(rec archive.Record)
}

// Config tunes the coordinator. Zero values take defaults.
type Config struct {
	Script           prompts.Script
	ChunkLength      int
	MaxAnswerLength  int
	MinConfidence    float64
	ResponderTimeout time.Duration
	GatherTimeout    time.Duration
}

// Coordinator handles call events. Each call's events must be delivered in
// order; different calls may be handled concurrently.
type Coordinator struct {
	store     *session.Store
	player    *playback.Player
	responder pipeline.Responder
	detector  *pipeline.TerminationDetector
	archiver  Archiver
	cfg       Config
}

// New builds a coordinator. responder and archiver may be nil: without a
// responder every question gets the missing-capability message, without an
// archiver finished calls are not persisted.
func New(store *session.Store, player *playback.Player, responder pipeline.Responder,
	detector *pipeline.TerminationDetector, archiver Archiver, cfg Config) *Coordinator {
	if cfg.Script.Greeting == "" {
		cfg.Script = prompts.NewScript("")
	}
	if cfg.ChunkLength <= 0 {
		cfg.ChunkLength = pipeline.DefaultChunkLength
	}
	if cfg.MaxAnswerLength <= 0 {
		cfg.MaxAnswerLength = pipeline.DefaultMaxAnswerLength
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = DefaultResponderTimeout
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = playback.DefaultGatherTimeout
	}
	if detector == nil {
		detector = pipeline.NewTerminationDetector(false)
	}
	return &Coordinator{
		store:     store,
		player:    player,
		responder: responder,
		detector:  detector,
		archiver:  archiver,
		cfg:       cfg,
	}
}

// HandleEvent routes ev to the matching handler.
func (c *Coordinator) HandleEvent(ctx context.Context, ev voice.Event) voice.Directive {
	switch ev.Kind {
	case voice.EventNewCall:
		return c.NewCall(ctx, ev.CallID, ev.From)
	case voice.EventSpeech:
		return c.Speech(ctx, ev.CallID, ev.Text, ev.Confidence)
	case voice.EventInterrupt:
		return c.Interrupt(ctx, ev.CallID, ev.ResponseID, ev.Text, ev.Confidence)
	case voice.EventContinue:
		return c.Continue(ctx, ev.CallID, ev.ResponseID)
	case voice.EventStatus:
		return c.Status(ctx, ev.CallID, ev.Status)
	}
	slog.Warn("unknown event kind", "call_id", ev.CallID, "kind", ev.Kind)
	return voice.Directive{Kind: voice.DirectiveAck, CallID: ev.CallID}
}

// NewCall greets the caller. The greeting is spoken and recorded once per
// call; a repeated new-call event only prompts again.
func (c *Coordinator) NewCall(_ context.Context, callID, from string) (d voice.Directive) {
	defer c.recoverTo(&d, callID, "new_call")

	sess, created := c.store.GetOrCreate(callID)
	if !created && len(sess.History) > 0 {
		return c.await(callID, nil, c.nextPrompt(sess))
	}

	now := c.store.Now()
	err := c.store.Update(callID, func(s *session.Session) {
		if from != "" {
			if s.Metadata == nil {
				s.Metadata = make(map[string]string)
			}
			s.Metadata["from"] = from
		}
		s.AppendMessage(session.RoleAssistant, c.cfg.Script.Greeting, map[string]any{"type": "greeting"}, now)
		s.LastActivity = now
	})
	if err != nil {
		return c.apology(callID, err)
	}
	slog.Info("call started", "call_id", callID, "from", from)
	return c.await(callID, []string{c.cfg.Script.Greeting}, c.cfg.Script.FirstPrompt)
}

// Speech handles a recognised utterance gathered after a prompt.
func (c *Coordinator) Speech(ctx context.Context, callID, text string, confidence float64) (d voice.Directive) {
	defer c.recoverTo(&d, callID, "speech")

	c.store.GetOrCreate(callID)
	_ = c.store.Touch(callID)

	text = strings.TrimSpace(text)
	if text == "" || confidence < c.cfg.MinConfidence {
		return c.reprompt(callID, text == "")
	}
	if c.detector.IsEndOfCall(text) {
		return c.closing(callID, text, true)
	}
	return c.answer(ctx, callID, text, true, nil)
}

// Interrupt handles caller speech heard while a response was playing.
// Unusable speech and rejected interruptions let playback continue.
func (c *Coordinator) Interrupt(ctx context.Context, callID, responseID, text string, confidence float64) (d voice.Directive) {
	defer c.recoverTo(&d, callID, "interrupt")

	responseID = c.resolveResponse(callID, responseID)
	text = strings.TrimSpace(text)
	if text == "" || confidence < c.cfg.MinConfidence {
		metrics.Interruptions.WithLabelValues("noise").Inc()
		return c.player.Continue(responseID)
	}

	res, resume := c.player.Interrupt(responseID, text, confidence)
	if resume.Kind == voice.DirectiveFallback {
		return resume
	}
	if !res.Accepted {
		return c.player.Continue(responseID)
	}

	if c.detector.IsEndOfCall(resume.Query) {
		return c.closing(callID, resume.Query, false)
	}
	return c.answer(ctx, callID, resume.Query, false, resume.Say)
}

// Continue plays the next chunk after a listen window passed in silence.
func (c *Coordinator) Continue(_ context.Context, callID, responseID string) (d voice.Directive) {
	defer c.recoverTo(&d, callID, "continue")
	return c.player.Continue(c.resolveResponse(callID, responseID))
}

// Status records a carrier status update. Terminal statuses end the call.
func (c *Coordinator) Status(_ context.Context, callID, status string) (d voice.Directive) {
	defer c.recoverTo(&d, callID, "status")

	st, ok := session.ParseStatus(status)
	if !ok {
		slog.Warn("unknown call status", "call_id", callID, "status", status)
		return voice.Directive{Kind: voice.DirectiveAck, CallID: callID}
	}
	if st.Terminal() {
		c.EndCall(callID, st, string(st))
		return voice.Directive{Kind: voice.DirectiveAck, CallID: callID}
	}
	if err := c.store.Update(callID, func(s *session.Session) { s.Status = st }); err != nil {
		slog.Info("status for unknown call", "call_id", callID, "status", status)
	}
	return voice.Directive{Kind: voice.DirectiveAck, CallID: callID}
}

// EndCall removes the session, releases its responses and archives it. It
// reports whether the call was still live.
func (c *Coordinator) EndCall(callID string, status session.Status, reason string) bool {
	_ = c.store.Update(callID, func(s *session.Session) { s.Status = status })
	sess, ok := c.store.Remove(callID)
	if !ok {
		return false
	}
	dropped := c.player.DropCall(callID)
	metrics.CallsEnded.WithLabelValues(reason).Inc()
	slog.Info("call ended",
		"call_id", callID, "status", status, "reason", reason,
		"interactions", sess.TotalInteractions, "responses_dropped", dropped)
	c.archiveSession(sess, reason)
	return true
}

// OnEvict cleans up after the sweeper removed an idle session.
func (c *Coordinator) OnEvict(sess session.Session) {
	c.player.DropCall(sess.ID)
	c.archiveSession(sess, "idle")
}

func (c *Coordinator) archiveSession(sess session.Session, reason string) {
	if c.archiver == nil {
		return
	}
	c.archiver.Submit(archive.FromSession(sess, reason, c.store.Now()))
}

// answer runs one question through the responder chain and starts playing
// the reply. appendUser is false when the utterance is already in history.
// lead is spoken before the first chunk.
func (c *Coordinator) answer(ctx context.Context, callID, text string, appendUser bool, lead []string) voice.Directive {
	start := time.Now()
	now := c.store.Now()

	var turn int
	var follow session.FollowUpResult
	err := c.store.Update(callID, func(s *session.Session) {
		s.LowConfidenceStreak = 0
		if appendUser {
			s.AppendMessage(session.RoleUser, text, nil, now)
		}
		follow = session.EvaluateFollowUp(s.FollowUp, text)
		s.ObserveIntent(text)
		s.Turn++
		s.TotalInteractions++
		s.LastActivity = now
		turn = s.Turn
	})
	if err != nil {
		return c.apology(callID, err)
	}
	snap, err := c.store.Get(callID)
	if err != nil {
		return c.apology(callID, err)
	}

	q := pipeline.Query{
		Text:     text,
		History:  snap.History,
		Intent:   snap.Intent,
		FollowUp: follow.IsFollowUp,
	}
	ans := c.respond(ctx, q)

	reply := strings.TrimSpace(ans.Text)
	if reply == "" {
		reply = c.cfg.Script.EmptyAnswer
	}
	reply = pipeline.TruncateAnswer(reply, c.cfg.MaxAnswerLength)

	stale := false
	err = c.store.Update(callID, func(s *session.Session) {
		if s.Turn != turn {
			stale = true
			return
		}
		s.AppendMessage(session.RoleAssistant, reply, map[string]any{
			"source":   ans.Source,
			"resolved": ans.Resolved,
			"intent":   string(s.Intent),
		}, c.store.Now())
		s.SetFollowUpContext(session.FollowUpFor(s.Intent))
		s.State = session.StateInProgress
	})
	if err != nil {
		slog.Info("call ended while answering", "call_id", callID)
		return voice.Directive{Kind: voice.DirectiveAck, CallID: callID}
	}
	if stale {
		slog.Info("discarding stale answer", "call_id", callID, "turn", turn)
		return voice.Directive{Kind: voice.DirectiveAck, CallID: callID}
	}

	chunks := pipeline.Split(reply, c.cfg.ChunkLength)
	id, err := c.player.Register(callID, uuid.NewString(), chunks)
	if err != nil {
		return c.apology(callID, err)
	}
	d := c.player.Start(id)
	d.Say = append(append([]string(nil), lead...), d.Say...)

	metrics.StageDuration.WithLabelValues("turn").Observe(time.Since(start).Seconds())
	slog.Info("answered",
		"call_id", callID, "intent", snap.Intent, "follow_up", follow.IsFollowUp,
		"source", ans.Source, "resolved", ans.Resolved, "chunks", len(chunks))
	return d
}

func (c *Coordinator) respond(ctx context.Context, q pipeline.Query) pipeline.Answer {
	if c.responder == nil {
		metrics.Errors.WithLabelValues("responder", "missing").Inc()
		return pipeline.Answer{Text: c.cfg.Script.MissingCapability, Source: "missing"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResponderTimeout)
	defer cancel()
	ans, err := c.responder.Answer(ctx, q)
	if err != nil {
		metrics.Errors.WithLabelValues("responder", "error").Inc()
		slog.Error("responder failed", "error", err)
		return pipeline.Answer{Source: "error"}
	}
	return ans
}

func (c *Coordinator) closing(callID, text string, appendUser bool) voice.Directive {
	now := c.store.Now()
	err := c.store.Update(callID, func(s *session.Session) {
		if appendUser {
			s.AppendMessage(session.RoleUser, text, nil, now)
		}
		s.AppendMessage(session.RoleAssistant, c.cfg.Script.Closing, map[string]any{"type": "closing"}, now)
		s.EndRequested = true
		s.Interruption.ActiveResponseToken = ""
		s.LastActivity = now
	})
	if err != nil {
		return c.apology(callID, err)
	}
	c.player.DropCall(callID)
	slog.Info("caller ended conversation", "call_id", callID)
	return voice.Directive{Kind: voice.DirectiveHangup, CallID: callID, Say: []string{c.cfg.Script.Closing}}
}

// reprompt asks again after unusable speech. The caller is re-prompted once;
// a second miss in a row gets the apology and the streak starts over.
func (c *Coordinator) reprompt(callID string, silent bool) voice.Directive {
	var streak int
	_ = c.store.Update(callID, func(s *session.Session) {
		s.LowConfidenceStreak++
		streak = s.LowConfidenceStreak
		if streak > 1 {
			s.LowConfidenceStreak = 0
		}
	})
	metrics.LowConfidence.Inc()

	say, prompt := c.cfg.Script.LowConfidence, c.cfg.Script.LowConfidenceAsk
	switch {
	case streak > 1:
		say, prompt = c.cfg.Script.Apology, c.cfg.Script.ApologyPrompt
	case silent:
		say, prompt = c.cfg.Script.NoInput, c.cfg.Script.FirstPrompt
	}
	return voice.Directive{
		Kind:          voice.DirectiveReprompt,
		CallID:        callID,
		Say:           []string{say},
		Prompt:        prompt,
		GatherTimeout: c.cfg.GatherTimeout,
	}
}

func (c *Coordinator) await(callID string, say []string, prompt string) voice.Directive {
	return voice.Directive{
		Kind:          voice.DirectiveAwaitUtterance,
		CallID:        callID,
		Say:           say,
		Prompt:        prompt,
		GatherTimeout: c.cfg.GatherTimeout,
	}
}

func (c *Coordinator) nextPrompt(sess session.Session) string {
	if sess.State == session.StateGreeting {
		return c.cfg.Script.FirstPrompt
	}
	return c.cfg.Script.NextPrompt
}

func (c *Coordinator) resolveResponse(callID, responseID string) string {
	if responseID != "" {
		return responseID
	}
	if r, ok := c.player.Current(callID); ok {
		return r.ID
	}
	return callID + "_0"
}

func (c *Coordinator) apology(callID string, err error) voice.Directive {
	metrics.Errors.WithLabelValues("conversation", "error").Inc()
	slog.Error("conversation error", "call_id", callID, "error", err)
	return voice.Directive{
		Kind:          voice.DirectiveFallback,
		CallID:        callID,
		Say:           []string{c.cfg.Script.Apology},
		Prompt:        c.cfg.Script.ApologyPrompt,
		GatherTimeout: c.cfg.GatherTimeout,
	}
}

func (c *Coordinator) recoverTo(d *voice.Directive, callID, op string) {
	if r := recover(); r != nil {
		metrics.Errors.WithLabelValues("conversation", "panic").Inc()
		*d = c.apology(callID, fmt.Errorf("%s panicked: %v", op, r))
	}
}
