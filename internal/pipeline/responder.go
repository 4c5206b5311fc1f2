package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/telecaller/internal/metrics"
	"github.com/hubenschmidt/telecaller/internal/session"
)

// Query is one caller question with the context a responder may use.
type Query struct {
	Text     string
	History  []session.Message
	Intent   session.Intent
	FollowUp bool
}

// Answer is a responder's reply. Resolved is false when the responder had
// nothing specific to say.
type Answer struct {
	Text     string `json:"text"`
	Resolved bool   `json:"resolved"`
	Source   string `json:"source"`
}

// Responder answers caller questions.
type Responder interface {
	Answer(ctx context.Context, q Query) (Answer, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, q Query) (Answer, error)

// Answer calls f.
func (f ResponderFunc) Answer(ctx context.Context, q Query) (Answer, error) {
	return f(ctx, q)
}

// Stage is a named link in a Chain.
type Stage struct {
	Name      string
	Responder Responder
}

// Chain tries each stage in order and returns the first resolved, non-empty
// answer. Errors, timeouts and panics move on to the next stage; when every
// stage fails the final fallback answers.
type Chain struct {
	stages   []Stage
	fallback Responder
	timeout  time.Duration
}

// NewChain builds a chain with a per-stage timeout. fallback must never fail.
func NewChain(timeout time.Duration, fallback Responder, stages ...Stage) *Chain {
	return &Chain{stages: stages, fallback: fallback, timeout: timeout}
}

// Answer never returns an error.
func (c *Chain) Answer(ctx context.Context, q Query) (Answer, error) {
	for _, st := range c.stages {
		if st.Responder == nil {
			continue
		}
		ans, err := c.runStage(ctx, st, q)
		if err != nil {
			metrics.Errors.WithLabelValues(st.Name, errorType(err)).Inc()
			slog.Warn("responder failed", "stage", st.Name, "error", err)
			continue
		}
		if ans.Resolved && strings.TrimSpace(ans.Text) != "" {
			if ans.Source == "" {
				ans.Source = st.Name
			}
			metrics.Answers.WithLabelValues(ans.Source).Inc()
			return ans, nil
		}
	}

	if c.fallback == nil {
		return Answer{}, nil
	}
	ans, err := c.fallback.Answer(ctx, q)
	if err != nil {
		slog.Error("fallback responder failed", "error", err)
		return Answer{}, nil
	}
	metrics.Answers.WithLabelValues(ans.Source).Inc()
	return ans, nil
}

type stageResult struct {
	ans Answer
	err error
}

// runStage bounds a stage by the chain timeout even when the responder
// ignores its context. A late result is dropped.
func (c *Chain) runStage(ctx context.Context, st Stage, q Query) (Answer, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult{err: fmt.Errorf("%s: %w: %v", st.Name, errStagePanic, r)}
			}
		}()
		ans, err := st.Responder.Answer(ctx, q)
		done <- stageResult{ans: ans, err: err}
	}()

	select {
	case res := <-done:
		metrics.StageDuration.WithLabelValues(st.Name).Observe(time.Since(start).Seconds())
		return res.ans, res.err
	case <-ctx.Done():
		return Answer{}, fmt.Errorf("%s: %w", st.Name, ctx.Err())
	}
}

var errStagePanic = errors.New("responder panicked")

func errorType(err error) string {
	switch {
	case errors.Is(err, errStagePanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}
