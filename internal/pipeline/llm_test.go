package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hubenschmidt/telecaller/internal/session"
)

type fakeEngine struct {
	replies []string
	errs    []error
	calls   int
	system  string
	got     []ChatMessage
}

func (f *fakeEngine) Complete(_ context.Context, system string, messages []ChatMessage) (string, error) {
	i := f.calls
	f.calls++
	f.system = system
	f.got = messages
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "", nil
}

func quickRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestLLMResponderHistoryWindow(t *testing.T) {
	eng := &fakeEngine{replies: []string{"  Cap rates of 4-10% are typical.  "}}
	r := NewLLMResponder(LLMResponderConfig{
		Router: NewLLMRouter(map[string]ChatEngine{"openai": eng}, "openai"),
		Engine: "openai",
		Retry:  quickRetry(),
	})

	var history []session.Message
	for i := 0; i < 9; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		history = append(history, session.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	history = append(history, session.Message{Role: session.RoleUser, Content: "What's a good cap rate?"})

	ans, err := r.Answer(context.Background(), Query{Text: "What's a good cap rate?", History: history, Intent: session.IntentInvesting})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != "Cap rates of 4-10% are typical." || !ans.Resolved || ans.Source != "llm" {
		t.Errorf("answer = %+v", ans)
	}
	if len(eng.got) != 6 {
		t.Fatalf("sent %d messages, want 6", len(eng.got))
	}
	if eng.got[0].Content != "m4" || eng.got[5].Content != "What's a good cap rate?" {
		t.Errorf("window = %+v", eng.got)
	}
	if !strings.Contains(eng.system, "cap rates") {
		t.Error("system prompt missing investing guidance")
	}
}

func TestLLMResponderAppendsQuery(t *testing.T) {
	eng := &fakeEngine{replies: []string{"ok"}}
	r := NewLLMResponder(LLMResponderConfig{
		Router: NewLLMRouter(map[string]ChatEngine{"openai": eng}, "openai"),
		Retry:  quickRetry(),
	})
	hist := []session.Message{{Role: session.RoleAssistant, Content: "Hello"}}
	if _, err := r.Answer(context.Background(), Query{Text: "hi", History: hist}); err != nil {
		t.Fatal(err)
	}
	if len(eng.got) != 2 || eng.got[1].Role != "user" || eng.got[1].Content != "hi" {
		t.Errorf("messages = %+v", eng.got)
	}
}

func TestLLMResponderRetries(t *testing.T) {
	eng := &fakeEngine{errs: []error{errors.New("503"), nil}, replies: []string{"", "second try"}}
	r := NewLLMResponder(LLMResponderConfig{
		Router: NewLLMRouter(map[string]ChatEngine{"openai": eng}, "openai"),
		Retry:  quickRetry(),
	})
	ans, err := r.Answer(context.Background(), Query{Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if eng.calls != 2 || ans.Text != "second try" {
		t.Errorf("calls = %d, answer = %+v", eng.calls, ans)
	}
}

func TestLLMResponderNoEngine(t *testing.T) {
	r := NewLLMResponder(LLMResponderConfig{Router: NewLLMRouter(nil, "openai")})
	if _, err := r.Answer(context.Background(), Query{Text: "hi"}); !errors.Is(err, ErrNoEngine) {
		t.Errorf("err = %v, want ErrNoEngine", err)
	}
	r = NewLLMResponder(LLMResponderConfig{})
	if _, err := r.Answer(context.Background(), Query{Text: "hi"}); !errors.Is(err, ErrNoEngine) {
		t.Errorf("nil router err = %v", err)
	}
}

func TestRouterFallback(t *testing.T) {
	r := NewRouter(map[string]int{"a": 1}, "a")
	r.Register("b", 2)
	if v, _ := r.Route("b"); v != 2 {
		t.Errorf("Route(b) = %d", v)
	}
	if v, _ := r.Route("zzz"); v != 1 {
		t.Errorf("Route(zzz) = %d, want fallback", v)
	}
	if got := r.Engines(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Engines = %v", got)
	}
	if !r.Has("b") || r.Has("zzz") {
		t.Error("Has disagrees with Register")
	}
	r.SetFallback("b")
	if v, _ := r.Route("zzz"); v != 2 {
		t.Errorf("Route(zzz) after SetFallback = %d", v)
	}
	if _, err := NewRouter[int](nil, "x").Route("y"); err == nil {
		t.Error("expected error with no backends")
	}
}

func TestOpenAIEngineComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Closing takes 30-45 days."}}]}`)
	}))
	defer srv.Close()

	eng := NewOpenAIEngine(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	out, err := eng.Complete(context.Background(), "be brief", []ChatMessage{
		{Role: "user", Content: "how long is closing"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Closing takes 30-45 days." {
		t.Errorf("out = %q", out)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("sent %d messages, want system + user", len(msgs))
	}
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", body["model"])
	}
}

func TestOpenAIEnginePermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	eng := NewOpenAIEngine(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL, Model: "m"})
	_, err := eng.Complete(context.Background(), "", []ChatMessage{{Role: "user", Content: "hi"}})
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("err = %v, want ErrPermanent", err)
	}
}

func TestAgentInput(t *testing.T) {
	if got := agentInput([]ChatMessage{{Role: "user", Content: "hi"}}); got != "hi" {
		t.Errorf("single = %q", got)
	}
	got := agentInput([]ChatMessage{
		{Role: "user", Content: "my name is Dana"},
		{Role: "assistant", Content: "Hello Dana"},
		{Role: "user", Content: "cap rates?"},
	})
	if !strings.Contains(got, "assistant: Hello Dana\n") || !strings.HasSuffix(got, "Caller: cap rates?") {
		t.Errorf("transcript = %q", got)
	}
}

func TestAnthropicEngineStream(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "key" {
			t.Errorf("request %s key=%q", r.URL.Path, r.Header.Get("x-api-key"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"Closing takes \"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"30 to 45 days.\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {}\n\n")
	}))
	defer srv.Close()

	e := NewAnthropicEngine("key", srv.URL, "claude-test", 0, 1, time.Second)
	text, err := e.Complete(context.Background(), "be brief", []ChatMessage{
		{Role: "assistant", Content: "Hello, how can I help?"},
		{Role: "user", Content: "How long is closing?"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Closing takes 30 to 45 days." {
		t.Errorf("text = %q", text)
	}
	if got.System != "be brief" || !got.Stream || got.MaxTokens != 300 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("leading assistant turn not dropped: %+v", got.Messages)
	}
}

func TestAnthropicEngineStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		e := NewAnthropicEngine("key", srv.URL, "m", 0, 1, time.Second)
		_, err := e.Complete(context.Background(), "", []ChatMessage{{Role: "user", Content: "hi"}})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: no error", tt.status)
		}
		if errors.Is(err, ErrPermanent) != tt.permanent {
			t.Errorf("status %d: permanent = %v", tt.status, !tt.permanent)
		}
	}
}
