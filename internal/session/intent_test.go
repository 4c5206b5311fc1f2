package session

import "testing"

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
		ok   bool
	}{
		{"I want to buy a house", IntentBuying, true},
		{"How do I sell quickly?", IntentSelling, true},
		{"What mortgage can I get?", IntentFinancing, true},
		{"What's a good cap rate?", IntentInvesting, true},
		{"Is rental income taxed?", IntentInvesting, true},
		{"What are the latest trends?", IntentMarket, true},
		// "market" is listed under selling first, so selling wins.
		{"How is the market?", IntentSelling, true},
		{"hello there", IntentNone, false},
	}
	for _, tt := range tests {
		got, ok := DetectIntent(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("DetectIntent(%q) = %q,%v want %q,%v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestObserveIntentKeepsPrevious(t *testing.T) {
	s := &Session{}
	s.ObserveIntent("thinking about an investment")
	if s.Intent != IntentInvesting {
		t.Fatalf("intent = %q, want investing", s.Intent)
	}
	s.ObserveIntent("ok sounds good")
	if s.Intent != IntentInvesting {
		t.Errorf("unmatched utterance changed intent to %q", s.Intent)
	}
}
