package session

import "strings"

// Intent is the coarse topic the caller is asking about.
type Intent string

const (
	IntentNone      Intent = ""
	IntentBuying    Intent = "buying"
	IntentSelling   Intent = "selling"
	IntentFinancing Intent = "financing"
	IntentInvesting Intent = "investing"
	IntentMarket    Intent = "market"
)

// Checked in order; the first intent with a matching keyword wins.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentBuying, []string{"buy", "purchase", "home", "property", "real estate"}},
	{IntentSelling, []string{"sell", "listing", "market", "price", "value"}},
	{IntentFinancing, []string{"loan", "finance", "financing", "interest", "mortgage", "down payment", "pre-approval"}},
	{IntentInvesting, []string{"invest", "rental", "income", "property management", "cap rate", "cash flow"}},
	{IntentMarket, []string{"market", "trend", "prices", "appreciation"}},
}

// DetectIntent returns the first intent whose keyword occurs in text.
func DetectIntent(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, ik := range intentKeywords {
		for _, kw := range ik.keywords {
			if strings.Contains(lower, kw) {
				return ik.intent, true
			}
		}
	}
	return IntentNone, false
}

// ObserveIntent updates the session intent from an utterance. Without a
// match the previous intent is kept.
func (s *Session) ObserveIntent(text string) Intent {
	if intent, ok := DetectIntent(text); ok {
		s.Intent = intent
	}
	return s.Intent
}

// Keywords returns the detection keywords for intent.
func (i Intent) Keywords() []string {
	for _, ik := range intentKeywords {
		if ik.intent == i {
			return append([]string(nil), ik.keywords...)
		}
	}
	return nil
}
