package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/telecaller/internal/voice"
)

type heard struct {
	u   voice.Utterance
	err error
}

type scriptedTransport struct {
	mu       sync.Mutex
	rendered []string
	script   []heard
	windows  []time.Duration
}

func (s *scriptedTransport) Render(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, text)
	return nil
}

func (s *scriptedTransport) Listen(ctx context.Context, timeout time.Duration) (voice.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, timeout)
	if err := ctx.Err(); err != nil {
		return voice.Utterance{}, err
	}
	if len(s.script) == 0 {
		return voice.Utterance{}, errors.New("caller hung up")
	}
	h := s.script[0]
	s.script = s.script[1:]
	return h.u, h.err
}

func say(text string) heard { return heard{u: voice.Utterance{Text: text, Confidence: 0.9}} }

var silence = heard{err: voice.ErrListenTimeout}

func TestRunFullConversation(t *testing.T) {
	h := newHarness(t, nil)
	tr := &scriptedTransport{script: []heard{
		say("What's a good cap rate?"),
		silence, silence, silence,
		say("goodbye"),
	}}

	if err := h.coord.Run(context.Background(), "WS1", tr); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if tr.rendered[0] != h.script.Greeting || tr.rendered[1] != h.script.FirstPrompt {
		t.Errorf("opening = %q", tr.rendered[:2])
	}
	if !strings.HasPrefix(tr.rendered[2], "A cap rate is") {
		t.Errorf("first chunk = %q", tr.rendered[2])
	}
	if got := tr.rendered[len(tr.rendered)-1]; got != h.script.Closing {
		t.Errorf("last render = %q", got)
	}
	if tr.windows[1] != time.Second || tr.windows[0] != 5*time.Second {
		t.Errorf("listen windows = %v", tr.windows)
	}
	if h.store.Has("WS1") {
		t.Error("session survived Run")
	}
	if recs := h.archive.all(); len(recs) != 1 || recs[0].Reason != "completed" {
		t.Errorf("archive = %+v", recs)
	}
}

func TestRunInterruptDuringPlayback(t *testing.T) {
	h := newHarness(t, nil)
	tr := &scriptedTransport{script: []heard{
		say("What's a good cap rate?"),
		say("What about property tax?"),
		silence,
		say("that's all"),
	}}
	if err := h.coord.Run(context.Background(), "WS1", tr); err != nil {
		t.Fatalf("Run: %v", err)
	}
	joined := strings.Join(tr.rendered, "\n")
	if !strings.Contains(joined, h.script.InterruptAck) || !strings.Contains(joined, "Property taxes vary") {
		t.Errorf("rendered = %q", tr.rendered)
	}
}

func TestRunTransportFailure(t *testing.T) {
	h := newHarness(t, nil)
	tr := &scriptedTransport{script: []heard{say("How do I sell my home?")}}
	err := h.coord.Run(context.Background(), "WS1", tr)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if recs := h.archive.all(); len(recs) != 1 || recs[0].Status != "failed" {
		t.Errorf("archive = %+v", recs)
	}
}

func TestRunCanceled(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.coord.Run(ctx, "WS1", &scriptedTransport{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if recs := h.archive.all(); len(recs) != 1 || recs[0].Reason != "canceled" {
		t.Errorf("archive = %+v", recs)
	}
}
