package session

import (
	"regexp"
	"strings"
)

var continuationMarker = regexp.MustCompile(`\b(more|further|additional|again)\b`)

// FollowUpResult scores how likely an utterance continues the prior turn.
type FollowUpResult struct {
	IsFollowUp bool     `json:"is_follow_up"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// EvaluateFollowUp scores text against fc. Each matched topic adds 0.4, each
// related question 0.3, each keyword 0.2 and a continuation word 0.1. The
// score is capped at 1.0 and counts as a follow-up above 0.5.
func EvaluateFollowUp(fc FollowUpContext, text string) FollowUpResult {
	lower := strings.ToLower(text)
	var tenths int
	var reasons []string

	for _, topic := range fc.ExpectedTopics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			tenths += 4
			reasons = append(reasons, "topic:"+topic)
		}
	}
	for _, q := range fc.RelatedQuestions {
		if q != "" && strings.Contains(lower, strings.ToLower(q)) {
			tenths += 3
			reasons = append(reasons, "question:"+q)
		}
	}
	for _, kw := range fc.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			tenths += 2
			reasons = append(reasons, "keyword:"+kw)
		}
	}
	if continuationMarker.MatchString(lower) {
		tenths++
		reasons = append(reasons, "continuation")
	}

	tenths = min(tenths, 10)
	return FollowUpResult{
		IsFollowUp: tenths > 5,
		Confidence: float64(tenths) / 10,
		Reasons:    reasons,
	}
}

// SetFollowUpContext replaces only the lists that are non-empty.
func (s *Session) SetFollowUpContext(fc FollowUpContext) {
	if len(fc.ExpectedTopics) > 0 {
		s.FollowUp.ExpectedTopics = fc.ExpectedTopics
	}
	if len(fc.RelatedQuestions) > 0 {
		s.FollowUp.RelatedQuestions = fc.RelatedQuestions
	}
	if len(fc.Keywords) > 0 {
		s.FollowUp.Keywords = fc.Keywords
	}
}

var intentFollowUps = map[Intent]FollowUpContext{
	IntentBuying: {
		ExpectedTopics:   []string{"offer", "inspection", "closing", "pre-approval", "down payment"},
		RelatedQuestions: []string{"how long does closing take", "how much should i offer", "do i need an agent"},
	},
	IntentSelling: {
		ExpectedTopics:   []string{"staging", "listing price", "commission", "showing", "appraisal"},
		RelatedQuestions: []string{"how long will it take to sell", "what is my home worth", "should i renovate"},
	},
	IntentFinancing: {
		ExpectedTopics:   []string{"interest rate", "credit score", "pmi", "refinance", "fha"},
		RelatedQuestions: []string{"how much can i borrow", "what credit score do i need", "how much is the down payment"},
	},
	IntentInvesting: {
		ExpectedTopics:   []string{"cap rate", "cash flow", "property management", "1031", "roi"},
		RelatedQuestions: []string{"what is a good return", "how do i finance a rental", "should i flip"},
	},
	IntentMarket: {
		ExpectedTopics:   []string{"inventory", "prices", "forecast", "buyer's market", "seller's market"},
		RelatedQuestions: []string{"is now a good time to buy", "will prices drop", "is there a bubble"},
	},
}

// FollowUpFor returns the follow-up context seeded after answering a
// question with the given intent. Keywords come from the intent itself.
func FollowUpFor(intent Intent) FollowUpContext {
	fc := intentFollowUps[intent]
	return FollowUpContext{
		ExpectedTopics:   append([]string(nil), fc.ExpectedTopics...),
		RelatedQuestions: append([]string(nil), fc.RelatedQuestions...),
		Keywords:         intent.Keywords(),
	}
}
