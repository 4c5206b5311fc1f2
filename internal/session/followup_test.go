package session

import "testing"

func TestEvaluateFollowUp(t *testing.T) {
	fc := FollowUpContext{
		ExpectedTopics:   []string{"cap rate", "cash flow"},
		RelatedQuestions: []string{"what is a good return"},
		Keywords:         []string{"rental"},
	}
	tests := []struct {
		name       string
		text       string
		confidence float64
		followUp   bool
	}{
		{"no overlap", "what time is it", 0, false},
		{"topic plus continuation sits on the boundary", "tell me more about cap rate", 0.5, false},
		{"topic and keyword", "how does cap rate work on a rental", 0.6, true},
		{"everything caps at one", "more on cap rate and cash flow for a rental, what is a good return", 1.0, true},
		{"continuation must be a whole word", "furthermore, nothing", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateFollowUp(fc, tt.text)
			if got.Confidence != tt.confidence || got.IsFollowUp != tt.followUp {
				t.Errorf("EvaluateFollowUp(%q) = %+v, want confidence %v follow-up %v", tt.text, got, tt.confidence, tt.followUp)
			}
		})
	}
}

func TestSetFollowUpContextReplacesNonEmpty(t *testing.T) {
	s := &Session{}
	s.SetFollowUpContext(FollowUpContext{ExpectedTopics: []string{"a"}, Keywords: []string{"k"}})
	s.SetFollowUpContext(FollowUpContext{ExpectedTopics: []string{"b"}})

	if len(s.FollowUp.ExpectedTopics) != 1 || s.FollowUp.ExpectedTopics[0] != "b" {
		t.Errorf("topics = %v, want [b]", s.FollowUp.ExpectedTopics)
	}
	if len(s.FollowUp.Keywords) != 1 || s.FollowUp.Keywords[0] != "k" {
		t.Errorf("keywords = %v, want [k] kept", s.FollowUp.Keywords)
	}
}

func TestFollowUpForIntent(t *testing.T) {
	fc := FollowUpFor(IntentInvesting)
	if len(fc.ExpectedTopics) == 0 || len(fc.Keywords) == 0 {
		t.Fatalf("investing follow-up context is empty: %+v", fc)
	}
	if !EvaluateFollowUp(fc, "and what about cash flow on a rental?").IsFollowUp {
		t.Error("expected an investing follow-up to score as follow-up")
	}
}
