package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/telecaller/internal/metrics"
	"github.com/hubenschmidt/telecaller/internal/prompts"
	"github.com/hubenschmidt/telecaller/internal/session"
)

// ErrNoEngine is returned when no language model engine is configured.
var ErrNoEngine = errors.New("no llm engine configured")

// ChatMessage is one prior turn passed to a chat engine.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatEngine produces a single chat completion.
type ChatEngine interface {
	Complete(ctx context.Context, system string, messages []ChatMessage) (string, error)
}

// LLMRouter dispatches completions to the configured engine.
type LLMRouter struct {
	*Router[ChatEngine]
}

// NewLLMRouter creates a router with registered engines and a fallback default.
func NewLLMRouter(engines map[string]ChatEngine, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(engines, fallback)}
}

// LLMResponderConfig configures the language model stage of the chain.
type LLMResponderConfig struct {
	Router        *LLMRouter
	Engine        string
	Company       string
	HistoryWindow int
	Retry         RetryPolicy
}

// LLMResponder answers with a language model, using the caller's intent to
// pick system prompt guidance and the recent history as context.
type LLMResponder struct {
	cfg LLMResponderConfig
}

// NewLLMResponder creates the responder. A zero HistoryWindow keeps the last
// 6 messages.
func NewLLMResponder(cfg LLMResponderConfig) *LLMResponder {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	return &LLMResponder{cfg: cfg}
}

// Answer implements Responder.
func (r *LLMResponder) Answer(ctx context.Context, q Query) (Answer, error) {
	if r.cfg.Router == nil {
		return Answer{}, ErrNoEngine
	}
	engine, err := r.cfg.Router.Route(r.cfg.Engine)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrNoEngine, err)
	}

	system := prompts.System(r.cfg.Company, string(q.Intent))
	messages := r.buildMessages(q)

	start := time.Now()
	var text string
	err = r.cfg.Retry.Execute(ctx, func(ctx context.Context) error {
		out, err := engine.Complete(ctx, system, messages)
		if err != nil {
			metrics.Errors.WithLabelValues("llm", "request").Inc()
			slog.Warn("llm completion failed", "engine", r.cfg.Engine, "error", err)
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	})
	metrics.StageDuration.WithLabelValues("llm_total").Observe(time.Since(start).Seconds())
	if err != nil {
		return Answer{}, fmt.Errorf("llm answer: %w", err)
	}
	return Answer{Text: text, Resolved: text != "", Source: "llm"}, nil
}

// buildMessages keeps the last HistoryWindow messages and appends the query
// unless the history already ends with it.
func (r *LLMResponder) buildMessages(q Query) []ChatMessage {
	hist := q.History
	if len(hist) > r.cfg.HistoryWindow {
		hist = hist[len(hist)-r.cfg.HistoryWindow:]
	}
	msgs := make([]ChatMessage, 0, len(hist)+1)
	for _, m := range hist {
		msgs = append(msgs, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	last := len(hist) - 1
	if last < 0 || hist[last].Role != session.RoleUser || hist[last].Content != q.Text {
		msgs = append(msgs, ChatMessage{Role: string(session.RoleUser), Content: q.Text})
	}
	return msgs
}
