package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hubenschmidt/telecaller/internal/archive"
	"github.com/hubenschmidt/telecaller/internal/pipeline"
	"github.com/hubenschmidt/telecaller/internal/playback"
	"github.com/hubenschmidt/telecaller/internal/prompts"
	"github.com/hubenschmidt/telecaller/internal/session"
	"github.com/hubenschmidt/telecaller/internal/voice"
)

type fakeArchiver struct {
	mu      sync.Mutex
	records []archive.Record
}

func (f *fakeArchiver) Submit(rec archive.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeArchiver) all() []archive.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archive.Record(nil), f.records...)
}

type harness struct {
	store   *session.Store
	player  *playback.Player
	coord   *Coordinator
	archive *fakeArchiver
	script  prompts.Script
}

func newHarness(t *testing.T, responder pipeline.Responder) *harness {
	t.Helper()
	store := session.NewStore(session.Config{})
	player := playback.New(store, playback.Config{})
	arch := &fakeArchiver{}
	if responder == nil {
		responder = pipeline.NewChain(time.Second, pipeline.TopicFallback{},
			pipeline.Stage{Name: "knowledge", Responder: pipeline.NewKnowledgeResponder()})
	}
	coord := New(store, player, responder, nil, arch, Config{})
	return &harness{store: store, player: player, coord: coord, archive: arch, script: prompts.NewScript("")}
}

// playOut continues d until the response finishes and returns every chunk
// spoken plus the final directive.
func (h *harness) playOut(t *testing.T, callID string, d voice.Directive) ([]string, voice.Directive) {
	t.Helper()
	var spoken []string
	for i := 0; d.Kind == voice.DirectiveSpeakChunk; i++ {
		if i > 50 {
			t.Fatal("playback never completed")
		}
		spoken = append(spoken, d.Say...)
		d = h.coord.Continue(context.Background(), callID, d.ResponseID)
	}
	return spoken, d
}

func TestEndToEndCapRateCall(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	d := h.coord.HandleEvent(ctx, voice.Event{CallID: "CA1", Kind: voice.EventNewCall, From: "+15550100"})
	if d.Kind != voice.DirectiveAwaitUtterance || d.Say[0] != h.script.Greeting || d.Prompt != "Please go ahead with your question." {
		t.Fatalf("greeting = %+v", d)
	}

	d = h.coord.HandleEvent(ctx, voice.Event{CallID: "CA1", Kind: voice.EventSpeech, Text: "What's a good cap rate?", Confidence: 0.92})
	if d.Kind != voice.DirectiveSpeakChunk || d.ListenWindow != time.Second {
		t.Fatalf("answer = %+v", d)
	}

	sess, _ := h.store.Get("CA1")
	if sess.Intent != session.IntentInvesting {
		t.Errorf("intent = %q, want investing", sess.Intent)
	}
	last := sess.History[len(sess.History)-1]
	if last.Role != session.RoleAssistant || last.Metadata["source"] != "knowledge" || last.Metadata["resolved"] != true {
		t.Errorf("assistant message = %+v", last)
	}
	if sess.Interruption.ActiveResponseToken == "" {
		t.Error("no active response token while playing")
	}

	chunks, d := h.playOut(t, "CA1", d)
	if len(chunks) < 2 {
		t.Errorf("chunks = %d, want the answer split", len(chunks))
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 150 {
			t.Errorf("chunk of %d chars: %q", n, c)
		}
	}
	if strings.Join(chunks, " ") != last.Content {
		t.Errorf("chunks do not rebuild the answer")
	}
	if d.Kind != voice.DirectiveAwaitUtterance || d.Prompt != "Is there anything else you'd like to know?" {
		t.Fatalf("after playback = %+v", d)
	}

	d = h.coord.HandleEvent(ctx, voice.Event{CallID: "CA1", Kind: voice.EventSpeech, Text: "Goodbye", Confidence: 0.9})
	if d.Kind != voice.DirectiveHangup || d.Say[0] != h.script.Closing {
		t.Fatalf("goodbye = %+v", d)
	}
	sess, _ = h.store.Get("CA1")
	if !sess.EndRequested {
		t.Error("end not requested")
	}

	h.coord.HandleEvent(ctx, voice.Event{CallID: "CA1", Kind: voice.EventStatus, Status: "completed"})
	if h.store.Has("CA1") {
		t.Fatal("session not removed after completed status")
	}
	recs := h.archive.all()
	if len(recs) != 1 || recs[0].Status != "completed" || recs[0].Intent != "investing" {
		t.Fatalf("archive = %+v", recs)
	}
	if recs[0].Metadata["from"] != "+15550100" {
		t.Errorf("metadata = %v", recs[0].Metadata)
	}
	if got := recs[0].History[len(recs[0].History)-1].Content; got != h.script.Closing {
		t.Errorf("last archived message = %q", got)
	}
}

func TestGreetingOncePerCall(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")
	d := h.coord.NewCall(ctx, "CA1", "")
	if len(d.Say) != 0 || d.Prompt != "Please go ahead with your question." {
		t.Errorf("repeat new call = %+v", d)
	}
	sess, _ := h.store.Get("CA1")
	if len(sess.History) != 1 {
		t.Errorf("history = %d, want one greeting", len(sess.History))
	}
}

func TestLowConfidenceReprompts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")

	d := h.coord.Speech(ctx, "CA1", "mumble", 0.2)
	if d.Kind != voice.DirectiveReprompt || d.Say[0] != h.script.LowConfidence || d.Prompt != h.script.LowConfidenceAsk {
		t.Errorf("low confidence = %+v", d)
	}
	sess, _ := h.store.Get("CA1")
	if len(sess.History) != 1 || sess.LowConfidenceStreak != 1 {
		t.Errorf("history = %d, streak = %d", len(sess.History), sess.LowConfidenceStreak)
	}

	// Exactly the threshold is accepted and clears the streak.
	if d := h.coord.Speech(ctx, "CA1", "How do I sell my home?", 0.3); d.Kind != voice.DirectiveSpeakChunk {
		t.Errorf("threshold confidence = %+v", d)
	}
	if sess, _ := h.store.Get("CA1"); sess.LowConfidenceStreak != 0 {
		t.Errorf("streak after answer = %d", sess.LowConfidenceStreak)
	}

	d = h.coord.Speech(ctx, "CA1", "  ", 0.9)
	if d.Kind != voice.DirectiveReprompt || d.Say[0] != h.script.NoInput || d.Prompt != h.script.FirstPrompt {
		t.Errorf("silence = %+v", d)
	}
}

func TestSecondMissApologizes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")

	h.coord.Speech(ctx, "CA1", "mumble", 0.1)
	d := h.coord.Speech(ctx, "CA1", "", 0)
	if d.Kind != voice.DirectiveReprompt || d.Say[0] != h.script.Apology || d.Prompt != h.script.ApologyPrompt {
		t.Fatalf("second miss = %+v", d)
	}
	if sess, _ := h.store.Get("CA1"); sess.LowConfidenceStreak != 0 {
		t.Errorf("streak = %d after apology", sess.LowConfidenceStreak)
	}

	// The cycle starts over with a plain re-prompt.
	if d := h.coord.Speech(ctx, "CA1", "mumble", 0.1); d.Say[0] != h.script.LowConfidence {
		t.Errorf("third miss = %+v", d)
	}
}

func TestInterruptAnswersNewQuestion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")
	d := h.coord.Speech(ctx, "CA1", "What's a good cap rate?", 0.9)

	d = h.coord.HandleEvent(ctx, voice.Event{
		CallID: "CA1", Kind: voice.EventInterrupt, ResponseID: d.ResponseID,
		Text: "What about property tax?", Confidence: 0.8,
	})
	if d.Kind != voice.DirectiveSpeakChunk {
		t.Fatalf("after interrupt = %+v", d)
	}
	if d.Say[0] != h.script.InterruptAck || !strings.HasPrefix(d.Say[1], "Property taxes vary") {
		t.Errorf("say = %q", d.Say)
	}

	sess, _ := h.store.Get("CA1")
	var users int
	for _, m := range sess.History {
		if m.Role == session.RoleUser && m.Content == "What about property tax?" {
			users++
			if m.Metadata["type"] != "interruption" {
				t.Errorf("interruption metadata = %v", m.Metadata)
			}
		}
	}
	if users != 1 {
		t.Errorf("interrupting utterance recorded %d times", users)
	}
	r, err := h.player.Get(d.ResponseID)
	if err != nil || r.InterruptionCount != 1 {
		t.Errorf("successor response = %+v, %v", r, err)
	}
}

func TestInterruptNoiseContinues(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")
	d := h.coord.Speech(ctx, "CA1", "What's a good cap rate?", 0.9)
	first := d.Say[0]

	d = h.coord.Interrupt(ctx, "CA1", "", "uh", 0.1)
	if d.Kind != voice.DirectiveSpeakChunk || d.Say[0] == first {
		t.Errorf("noise did not continue playback: %+v", d)
	}
}

func TestInterruptGoodbyeEndsCall(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")
	d := h.coord.Speech(ctx, "CA1", "What's a good cap rate?", 0.9)
	d = h.coord.Interrupt(ctx, "CA1", d.ResponseID, "thanks, goodbye", 0.9)
	if d.Kind != voice.DirectiveHangup {
		t.Fatalf("directive = %+v", d)
	}
	if _, ok := h.player.Current("CA1"); ok {
		t.Error("response still playing after goodbye")
	}
}

func TestUnknownResponseFallback(t *testing.T) {
	h := newHarness(t, nil)
	d := h.coord.Continue(context.Background(), "CA1", "CA1_123")
	if d.Kind != voice.DirectiveFallback || d.Say[0] != h.script.UnknownResponse {
		t.Errorf("directive = %+v", d)
	}
}

func TestMissingResponder(t *testing.T) {
	store := session.NewStore(session.Config{})
	coord := New(store, playback.New(store, playback.Config{}), nil, nil, nil, Config{})
	d := coord.Speech(context.Background(), "CA1", "How do I buy a home?", 0.9)
	if d.Kind != voice.DirectiveSpeakChunk || d.Say[0] != prompts.NewScript("").MissingCapability {
		t.Errorf("directive = %+v", d)
	}
}

func TestEmptyAnswerUsesDefault(t *testing.T) {
	empty := pipeline.ResponderFunc(func(context.Context, pipeline.Query) (pipeline.Answer, error) {
		return pipeline.Answer{Text: "  "}, nil
	})
	h := newHarness(t, empty)
	d := h.coord.Speech(context.Background(), "CA1", "How do I buy a home?", 0.9)
	if d.Say[0] != h.script.EmptyAnswer {
		t.Errorf("say = %q", d.Say)
	}
}

func TestPanicRecovered(t *testing.T) {
	boom := pipeline.ResponderFunc(func(context.Context, pipeline.Query) (pipeline.Answer, error) {
		panic("responder exploded")
	})
	h := newHarness(t, boom)
	d := h.coord.Speech(context.Background(), "CA1", "How do I buy a home?", 0.9)
	if d.Kind != voice.DirectiveFallback || d.Say[0] != h.script.Apology || d.Prompt != h.script.ApologyPrompt {
		t.Errorf("directive = %+v", d)
	}
}

func TestLongAnswerTruncated(t *testing.T) {
	long := strings.Repeat("Word after word. ", 100)
	resp := pipeline.ResponderFunc(func(context.Context, pipeline.Query) (pipeline.Answer, error) {
		return pipeline.Answer{Text: long, Resolved: true, Source: "test"}, nil
	})
	h := newHarness(t, resp)
	h.coord.Speech(context.Background(), "CA1", "tell me everything", 0.9)
	sess, _ := h.store.Get("CA1")
	got := sess.History[len(sess.History)-1].Content
	if utf8.RuneCountInString(got) != 1000 || !strings.HasSuffix(got, "...") {
		t.Errorf("answer length = %d", utf8.RuneCountInString(got))
	}
}

func TestFollowUpSeeded(t *testing.T) {
	var got []pipeline.Query
	var mu sync.Mutex
	rec := pipeline.ResponderFunc(func(_ context.Context, q pipeline.Query) (pipeline.Answer, error) {
		mu.Lock()
		got = append(got, q)
		mu.Unlock()
		return pipeline.Answer{Text: "Sure.", Resolved: true}, nil
	})
	h := newHarness(t, rec)
	ctx := context.Background()
	h.coord.Speech(ctx, "CA1", "I want to invest in a rental", 0.9)
	h.coord.Speech(ctx, "CA1", "How is cash flow worked out?", 0.9)

	if len(got) != 2 {
		t.Fatalf("queries = %d", len(got))
	}
	if got[0].FollowUp {
		t.Error("first question marked follow-up")
	}
	// cash flow topic 0.4 + keyword 0.2
	if !got[1].FollowUp || got[1].Intent != session.IntentInvesting {
		t.Errorf("second query = %+v", got[1])
	}
}

func TestSlowResponderTimesOut(t *testing.T) {
	slow := pipeline.ResponderFunc(func(ctx context.Context, _ pipeline.Query) (pipeline.Answer, error) {
		<-ctx.Done()
		return pipeline.Answer{}, ctx.Err()
	})
	store := session.NewStore(session.Config{})
	coord := New(store, playback.New(store, playback.Config{}), slow, nil, nil, Config{ResponderTimeout: 20 * time.Millisecond})
	d := coord.Speech(context.Background(), "CA1", "How do I buy a home?", 0.9)
	if d.Say[0] != prompts.NewScript("").EmptyAnswer {
		t.Errorf("say = %q", d.Say)
	}
}

func TestOnEvictArchives(t *testing.T) {
	h := newHarness(t, nil)
	h.coord.Speech(context.Background(), "CA1", "How do I sell my home?", 0.9)
	evicted := h.store.EvictIdle(h.store.Now().Add(time.Hour), time.Minute)
	for _, s := range evicted {
		h.coord.OnEvict(s)
	}
	if _, ok := h.player.Current("CA1"); ok {
		t.Error("response survived eviction")
	}
	if recs := h.archive.all(); len(recs) != 1 || recs[0].Reason != "idle" {
		t.Errorf("archive = %+v", recs)
	}
}

func TestStatusHandling(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.coord.NewCall(ctx, "CA1", "")
	h.coord.Status(ctx, "CA1", "ringing")
	if sess, _ := h.store.Get("CA1"); sess.Status != session.StatusRinging {
		t.Errorf("status = %q", sess.Status)
	}
	if d := h.coord.Status(ctx, "CA1", "exploded"); d.Kind != voice.DirectiveAck || !h.store.Has("CA1") {
		t.Error("unknown status changed the call")
	}
	h.coord.Status(ctx, "CA1", "busy")
	if h.store.Has("CA1") {
		t.Error("busy did not end the call")
	}
	// A second terminal status for a gone call is harmless.
	h.coord.Status(ctx, "CA1", "completed")
	if n := len(h.archive.all()); n != 1 {
		t.Errorf("archived %d times", n)
	}
}

func TestStaleAnswerIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	slow := pipeline.ResponderFunc(func(ctx context.Context, q pipeline.Query) (pipeline.Answer, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if !first {
			return pipeline.Answer{Text: "fresh answer.", Resolved: true, Source: "test"}, nil
		}
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return pipeline.Answer{Text: "stale answer.", Resolved: true, Source: "test"}, nil
	})
	h := newHarness(t, slow)
	ctx := context.Background()

	first := make(chan voice.Directive, 1)
	go func() { first <- h.coord.Speech(ctx, "CA1", "What's a good cap rate?", 0.9) }()
	<-started

	d2 := h.coord.Speech(ctx, "CA1", "What about property tax?", 0.9)
	close(release)
	d1 := <-first

	if d1.Kind != voice.DirectiveAck {
		t.Errorf("superseded answer = %+v", d1)
	}
	if d2.Kind != voice.DirectiveSpeakChunk || !strings.Contains(strings.Join(d2.Say, " "), "fresh answer.") {
		t.Errorf("latest answer = %+v", d2)
	}
	sess, err := h.store.Get("CA1")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range sess.History {
		if strings.Contains(m.Content, "stale answer.") {
			t.Errorf("stale answer reached history: %+v", m)
		}
	}
}

func TestCallEndedWhileAnswering(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := pipeline.ResponderFunc(func(ctx context.Context, q pipeline.Query) (pipeline.Answer, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return pipeline.Answer{Text: "too late.", Resolved: true}, nil
	})
	h := newHarness(t, slow)
	ctx := context.Background()

	done := make(chan voice.Directive, 1)
	go func() { done <- h.coord.Speech(ctx, "CA1", "What's a good cap rate?", 0.9) }()
	<-started

	if !h.coord.EndCall("CA1", session.StatusCompleted, "completed") {
		t.Fatal("call was not live")
	}
	close(release)

	if d := <-done; d.Kind != voice.DirectiveAck {
		t.Errorf("directive = %+v", d)
	}
	if h.store.Has("CA1") {
		t.Error("answer resurrected the session")
	}
	if recs := h.archive.all(); len(recs) != 1 {
		t.Errorf("archive = %+v", recs)
	}
}
