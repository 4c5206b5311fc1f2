package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hubenschmidt/telecaller/internal/session"
	"github.com/hubenschmidt/telecaller/internal/voice"
)

// Run drives one call over a synchronous transport until the caller hangs
// up, ctx ends or the transport fails. The session is always ended before
// Run returns.
func (c *Coordinator) Run(ctx context.Context, callID string, t voice.Transport) (err error) {
	defer func() {
		switch {
		case err == nil:
			c.EndCall(callID, session.StatusCompleted, "completed")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.EndCall(callID, session.StatusCanceled, "canceled")
		default:
			c.EndCall(callID, session.StatusFailed, "transport_error")
		}
	}()

	d := c.NewCall(ctx, callID, "")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, done, err := c.step(ctx, callID, t, d)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		d = next
	}
}

func (c *Coordinator) step(ctx context.Context, callID string, t voice.Transport, d voice.Directive) (voice.Directive, bool, error) {
	if err := c.say(ctx, callID, t, d.Say); err != nil {
		return d, false, err
	}

	switch d.Kind {
	case voice.DirectiveHangup:
		return d, true, nil

	case voice.DirectiveSpeakChunk:
		if d.ListenWindow <= 0 {
			return c.Continue(ctx, callID, d.ResponseID), false, nil
		}
		u, err := t.Listen(ctx, d.ListenWindow)
		if errors.Is(err, voice.ErrListenTimeout) {
			return c.Continue(ctx, callID, d.ResponseID), false, nil
		}
		if err != nil {
			return d, false, fmt.Errorf("listen for interrupt: %w", err)
		}
		return c.Interrupt(ctx, callID, d.ResponseID, u.Text, u.Confidence), false, nil

	case voice.DirectiveResume:
		return c.Speech(ctx, callID, d.Query, d.Confidence), false, nil

	case voice.DirectiveAck:
		if !c.store.Has(callID) {
			return d, true, nil
		}
		d.Prompt = c.cfg.Script.NextPrompt
	}

	return c.gather(ctx, callID, t, d.Prompt)
}

func (c *Coordinator) gather(ctx context.Context, callID string, t voice.Transport, prompt string) (voice.Directive, bool, error) {
	if prompt != "" {
		if err := t.Render(ctx, callID, prompt); err != nil {
			return voice.Directive{}, false, fmt.Errorf("render prompt: %w", err)
		}
	}
	u, err := t.Listen(ctx, c.cfg.GatherTimeout)
	if errors.Is(err, voice.ErrListenTimeout) {
		return c.Speech(ctx, callID, "", 0), false, nil
	}
	if err != nil {
		return voice.Directive{}, false, fmt.Errorf("gather: %w", err)
	}
	return c.Speech(ctx, callID, u.Text, u.Confidence), false, nil
}

func (c *Coordinator) say(ctx context.Context, callID string, t voice.Transport, lines []string) error {
	for _, line := range lines {
		if line == "" {
			continue
		}
		if err := t.Render(ctx, callID, line); err != nil {
			slog.Warn("render failed", "call_id", callID, "error", err)
			return fmt.Errorf("render: %w", err)
		}
	}
	return nil
}
