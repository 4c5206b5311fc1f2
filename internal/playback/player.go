// Package playback plays chunked responses to a caller one chunk at a time
// and decides whether caller speech may interrupt them.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/telecaller/internal/metrics"
	"github.com/hubenschmidt/telecaller/internal/prompts"
	"github.com/hubenschmidt/telecaller/internal/session"
	"github.com/hubenschmidt/telecaller/internal/voice"
)

var (
	// ErrUnknownResponse is returned for response ids the player does not hold.
	ErrUnknownResponse = errors.New("unknown response")
	// ErrNoChunks is returned when registering an empty response.
	ErrNoChunks = errors.New("response has no chunks")
)

const (
	DefaultListenWindow  = time.Second
	DefaultGatherTimeout = 5 * time.Second
)

// Status is the lifecycle state of an active response.
type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
)

// ResetPolicy controls when a session's interruption ability comes back
// after the threshold disabled it.
type ResetPolicy string

const (
	ResetNever       ResetPolicy = "never"
	ResetNewResponse ResetPolicy = "new_response"
	ResetCompletion  ResetPolicy = "completion"
)

// ParseResetPolicy accepts the policy names case-insensitively.
func ParseResetPolicy(s string) (ResetPolicy, bool) {
	switch p := ResetPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ResetNever, ResetNewResponse, ResetCompletion:
		return p, true
	case "":
		return ResetNever, true
	}
	return ResetNever, false
}

// Interruption records the caller speech that cut a response short.
type Interruption struct {
	Utterance  string    `json:"utterance"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Response is a registered answer being spoken chunk by chunk.
type Response struct {
	ID                string        `json:"id"`
	CallID            string        `json:"call_id"`
	Token             string        `json:"token"`
	Chunks            []string      `json:"chunks"`
	Cursor            int           `json:"cursor"`
	Status            Status        `json:"status"`
	InterruptionCount int           `json:"interruption_count"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         time.Time     `json:"started_at,omitempty"`
	Interrupt         *Interruption `json:"interrupt,omitempty"`
}

func (r *Response) clone() Response {
	c := *r
	c.Chunks = append([]string(nil), r.Chunks...)
	if r.Interrupt != nil {
		in := *r.Interrupt
		c.Interrupt = &in
	}
	return c
}

// InterruptResult reports what an interrupt attempt did.
type InterruptResult struct {
	Accepted             bool
	Count                int
	InterruptionDisabled bool
}

// Config tunes the player. Zero values take defaults.
type Config struct {
	ListenWindow  time.Duration
	GatherTimeout time.Duration
	Reset         ResetPolicy
	Script        prompts.Script
	Clock         func() time.Time
}

// Player owns every active response. Lock order is Player.mu, then the
// session store; store callbacks never call back into the player.
type Player struct {
	mu        sync.Mutex
	store     *session.Store
	cfg       Config
	responses map[string]*Response
	carry     map[string]int
	lastNanos int64
}

// New creates a player bound to store.
func New(store *session.Store, cfg Config) *Player {
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = DefaultListenWindow
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	if cfg.Reset == "" {
		cfg.Reset = ResetNever
	}
	if cfg.Script.CompletionPrompt == "" {
		cfg.Script = prompts.NewScript("")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Player{
		store:     store,
		cfg:       cfg,
		responses: make(map[string]*Response),
		carry:     make(map[string]int),
	}
}

// Register stores chunks as a pending response for callID and makes token
// the session's active response token. Any earlier unfinished response of
// the same call is released.
func (p *Player) Register(callID, token string, chunks []string) (string, error) {
	if len(chunks) == 0 {
		return "", ErrNoChunks
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.store.Update(callID, func(s *session.Session) {
		s.Interruption.ActiveResponseToken = token
		if p.cfg.Reset == ResetNewResponse {
			s.Interruption.CanInterrupt = true
		}
	})
	if err != nil {
		return "", fmt.Errorf("register response for %s: %w", callID, err)
	}

	for id, r := range p.responses {
		if r.CallID == callID {
			p.release(id)
		}
	}

	now := p.cfg.Clock()
	nanos := now.UnixNano()
	if nanos <= p.lastNanos {
		nanos = p.lastNanos + 1
	}
	id := fmt.Sprintf("%s_%d", callID, nanos)
	for p.responses[id] != nil {
		nanos++
		id = fmt.Sprintf("%s_%d", callID, nanos)
	}
	p.lastNanos = nanos

	p.responses[id] = &Response{
		ID:                id,
		CallID:            callID,
		Token:             token,
		Chunks:            append([]string(nil), chunks...),
		Status:            StatusPending,
		InterruptionCount: p.carry[callID],
		CreatedAt:         now,
	}
	delete(p.carry, callID)
	metrics.ResponsesActive.Inc()
	return id, nil
}

// Start begins playback with the first chunk.
func (p *Player) Start(responseID string) voice.Directive {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.responses[responseID]
	if !ok {
		return p.unknown(responseID, "start")
	}
	r.Status = StatusActive
	r.Cursor = 0
	r.StartedAt = p.cfg.Clock()
	return p.speak(r)
}

// Continue advances to the next chunk after an uninterrupted listen window.
// Past the last chunk the response completes and the caller is asked for
// another question.
func (p *Player) Continue(responseID string) voice.Directive {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.responses[responseID]
	if !ok || r.Status != StatusActive {
		return p.unknown(responseID, "continue")
	}

	r.Cursor++
	if r.Cursor < len(r.Chunks) {
		return p.speak(r)
	}

	r.Status = StatusCompleted
	p.clearToken(r, p.cfg.Reset == ResetCompletion)
	p.release(r.ID)
	return voice.Directive{
		Kind:          voice.DirectiveAwaitUtterance,
		CallID:        r.CallID,
		ResponseID:    r.ID,
		Prompt:        p.cfg.Script.CompletionPrompt,
		GatherTimeout: p.cfg.GatherTimeout,
	}
}

// Interrupt handles caller speech heard during playback. When the session
// no longer accepts interruptions nothing changes and the returned result is
// not accepted; the caller should keep playing. Otherwise the response is
// stopped and the directive carries the utterance as the next query.
func (p *Player) Interrupt(responseID, utterance string, confidence float64) (InterruptResult, voice.Directive) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.responses[responseID]
	if !ok || r.Status != StatusActive {
		metrics.Interruptions.WithLabelValues("unknown").Inc()
		return InterruptResult{}, p.unknown(responseID, "interrupt")
	}

	sess, err := p.store.Get(r.CallID)
	if err != nil {
		metrics.Interruptions.WithLabelValues("unknown").Inc()
		p.release(r.ID)
		return InterruptResult{}, p.unknown(responseID, "interrupt")
	}
	if !sess.Interruption.CanInterrupt {
		metrics.Interruptions.WithLabelValues("rejected").Inc()
		slog.Info("interrupt rejected", "call_id", r.CallID, "response_id", r.ID, "count", r.InterruptionCount)
		return InterruptResult{Count: r.InterruptionCount},
			voice.Directive{Kind: voice.DirectiveAck, CallID: r.CallID, ResponseID: r.ID}
	}

	now := p.cfg.Clock()
	r.Status = StatusInterrupted
	r.InterruptionCount++
	r.Interrupt = &Interruption{Utterance: utterance, Confidence: confidence, At: now}

	res := InterruptResult{Accepted: true, Count: r.InterruptionCount}
	_ = p.store.Update(r.CallID, func(s *session.Session) {
		s.AppendMessage(session.RoleUser, utterance, map[string]any{
			"type":           "interruption",
			"confidence":     confidence,
			"response_token": r.Token,
		}, now)
		if s.Interruption.ActiveResponseToken == r.Token {
			s.Interruption.ActiveResponseToken = ""
		}
		if r.InterruptionCount > s.Interruption.Threshold {
			s.Interruption.CanInterrupt = false
			res.InterruptionDisabled = true
		}
		s.LastActivity = now
	})

	p.carry[r.CallID] = r.InterruptionCount
	p.release(r.ID)
	metrics.Interruptions.WithLabelValues("accepted").Inc()
	slog.Info("response interrupted",
		"call_id", r.CallID, "response_id", r.ID, "chunk", r.Cursor,
		"count", r.InterruptionCount, "disabled", res.InterruptionDisabled)

	return res, voice.Directive{
		Kind:       voice.DirectiveResume,
		CallID:     r.CallID,
		ResponseID: r.ID,
		Say:        []string{p.cfg.Script.InterruptAck},
		Prompt:     p.cfg.Script.InterruptPrompt,
		Query:      utterance,
		Confidence: confidence,
	}
}

// Get returns a copy of the response.
func (p *Player) Get(responseID string) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.responses[responseID]
	if !ok {
		return Response{}, fmt.Errorf("%s: %w", responseID, ErrUnknownResponse)
	}
	return r.clone(), nil
}

// Current returns the call's response that is playing, if any.
func (p *Player) Current(callID string) (Response, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.responses {
		if r.CallID == callID && r.Status == StatusActive {
			return r.clone(), true
		}
	}
	return Response{}, false
}

// DropCall releases every response of callID and returns how many there were.
func (p *Player) DropCall(callID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, r := range p.responses {
		if r.CallID == callID {
			p.release(id)
			n++
		}
	}
	delete(p.carry, callID)
	return n
}

// SweepOrphans releases responses older than maxAge or whose session is gone.
func (p *Player) SweepOrphans(now time.Time, maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, r := range p.responses {
		if now.Sub(r.CreatedAt) > maxAge || !p.store.Has(r.CallID) {
			p.release(id)
			n++
		}
	}
	for callID := range p.carry {
		if !p.store.Has(callID) {
			delete(p.carry, callID)
		}
	}
	return n
}

// Len returns the number of responses held.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}

// SweepJob wraps SweepOrphans for the cleanup sweeper.
func SweepJob(p *Player, interval, maxAge time.Duration) session.SweepJob {
	return session.SweepJob{
		Name:     "responses",
		Interval: interval,
		Run: func(now time.Time) (int, error) {
			return p.SweepOrphans(now, maxAge), nil
		},
	}
}

func (p *Player) speak(r *Response) voice.Directive {
	window := p.cfg.ListenWindow
	if sess, err := p.store.Get(r.CallID); err != nil || !sess.Interruption.CanInterrupt {
		window = 0
	}
	metrics.ChunksPlayed.Inc()
	return voice.Directive{
		Kind:          voice.DirectiveSpeakChunk,
		CallID:        r.CallID,
		ResponseID:    r.ID,
		Say:           []string{r.Chunks[r.Cursor]},
		ListenWindow:  window,
		GatherTimeout: p.cfg.GatherTimeout,
	}
}

func (p *Player) clearToken(r *Response, resetInterrupt bool) {
	_ = p.store.Update(r.CallID, func(s *session.Session) {
		if s.Interruption.ActiveResponseToken == r.Token {
			s.Interruption.ActiveResponseToken = ""
		}
		if resetInterrupt {
			s.Interruption.CanInterrupt = true
		}
	})
}

func (p *Player) release(id string) {
	if _, ok := p.responses[id]; !ok {
		return
	}
	delete(p.responses, id)
	metrics.ResponsesActive.Dec()
}

func (p *Player) unknown(responseID, op string) voice.Directive {
	slog.Warn("unknown response", "op", op, "response_id", responseID)
	metrics.Errors.WithLabelValues("playback", "unknown_response").Inc()
	callID := ""
	if i := strings.LastIndexByte(responseID, '_'); i > 0 {
		callID = responseID[:i]
	}
	return voice.Directive{
		Kind:          voice.DirectiveFallback,
		CallID:        callID,
		ResponseID:    responseID,
		Say:           []string{p.cfg.Script.UnknownResponse},
		Prompt:        p.cfg.Script.UnknownPrompt,
		GatherTimeout: p.cfg.GatherTimeout,
	}
}
