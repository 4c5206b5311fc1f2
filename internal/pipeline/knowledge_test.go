package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/hubenschmidt/telecaller/internal/session"
)

func TestKnowledgePatterns(t *testing.T) {
	k := NewKnowledgeResponder()
	tests := []struct {
		text string
		want string
	}{
		{"What's a good cap rate?", "cap rate is a property's net operating income"},
		{"How much is a down payment?", "20% down payment"},
		{"Tell me about PMI", "Private Mortgage Insurance"},
		{"Should I do a 1031 exchange?", "1031 exchange"},
	}
	for _, tt := range tests {
		ans, err := k.Answer(context.Background(), Query{Text: tt.text})
		if err != nil {
			t.Fatalf("Answer(%q): %v", tt.text, err)
		}
		if !ans.Resolved || !strings.Contains(ans.Text, tt.want) {
			t.Errorf("Answer(%q) = %+v, want text containing %q", tt.text, ans, tt.want)
		}
	}
}

func TestKnowledgeCategoryFallback(t *testing.T) {
	k := NewKnowledgeResponder()
	ans, _ := k.Answer(context.Background(), Query{Text: "what passive portfolio options exist"})
	if !ans.Resolved || !strings.HasPrefix(ans.Text, "Real estate investing can provide") {
		t.Errorf("got %+v", ans)
	}

	ans, _ = k.Answer(context.Background(), Query{Text: "tell me a joke"})
	if ans.Resolved {
		t.Errorf("unrelated query resolved: %+v", ans)
	}
}

func TestKnowledgeFollowUpUsesIntent(t *testing.T) {
	k := NewKnowledgeResponder()
	q := Query{Text: "and what else", Intent: session.IntentFinancing, FollowUp: true}
	ans, _ := k.Answer(context.Background(), q)
	if !ans.Resolved || !strings.HasPrefix(ans.Text, "Real estate financing involves") {
		t.Errorf("got %+v", ans)
	}
}

func TestKnowledgePersonalize(t *testing.T) {
	k := NewKnowledgeResponder()
	history := []session.Message{
		{Role: session.RoleUser, Content: "Hi, my name is Dana"},
		{Role: session.RoleAssistant, Content: "Hello"},
	}
	ans, _ := k.Answer(context.Background(), Query{Text: "What's a good cap rate?", History: history})
	if !strings.HasPrefix(ans.Text, "Dana, A cap rate") {
		t.Errorf("text = %q", ans.Text)
	}

	ans, _ = k.Answer(context.Background(), Query{Text: "What's a good cap rate?", History: history[:1]})
	if strings.HasPrefix(ans.Text, "Dana") {
		t.Error("personalized with a single message of history")
	}
}

func TestPreprocessQuery(t *testing.T) {
	if got := preprocessQuery("  What's the PRICE, today?! "); got != "whats the price today" {
		t.Errorf("got %q", got)
	}
}
