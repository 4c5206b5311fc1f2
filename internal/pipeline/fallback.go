package pipeline

import (
	"context"
	"strings"
)

type topicAnswer struct {
	words  []string
	answer string
}

var topicAnswers = []topicAnswer{
	{[]string{"buy", "buying", "purchase", "purchasing"},
		"When buying a property, it's important to consider your budget, desired location, and long-term goals. I recommend getting pre-approved for a mortgage first to understand your budget. Our agents can help guide you through the entire process from property search to closing the deal. Would you like more specific information about any part of the home buying process?"},
	{[]string{"sell", "selling", "market", "list"},
		"Selling a property involves preparing your home, determining the right price, marketing effectively, and negotiating offers. Our team can provide a comprehensive market analysis to determine the optimal listing price for your property. Is there a specific aspect of selling you'd like to know more about?"},
	{[]string{"mortgage", "loan", "finance", "interest", "down payment"},
		"Real estate financing options include conventional mortgages, FHA loans, VA loans, and various first-time homebuyer programs. Current interest rates vary based on your credit score, loan amount, and down payment. Would you like me to explain any specific mortgage program in more detail?"},
	{[]string{"invest", "investment", "rental", "income", "property management"},
		"Real estate investing can provide both income and appreciation. Common strategies include buying rental properties, fix-and-flip projects, or REITs for passive investment. The best approach depends on your financial goals, risk tolerance, and how hands-on you want to be. What type of real estate investment are you considering?"},
	{[]string{"market", "trend", "price", "value", "appreciation"},
		"Real estate markets are highly localized, with conditions varying by neighborhood. Generally, we're seeing moderate price growth with inventory levels improving in most areas. Interest rates remain a key factor affecting buyer demand. Which location are you curious about?"},
}

// GeneralAnswer is used when no topic matches.
const GeneralAnswer = "I understand you have a question about real estate. At Premier Real Estate Services, we specialize in helping clients buy, sell, and invest in properties. Our experienced agents can provide guidance on property values, market trends, mortgage options, and investment strategies. Could you please provide more details about your specific real estate needs so I can give you more targeted information?"

// TopicFallback is the last link of the responder chain. It always answers,
// picking a canned reply by topic words in the query.
type TopicFallback struct{}

// Answer implements Responder. The answer is never marked resolved.
func (TopicFallback) Answer(_ context.Context, q Query) (Answer, error) {
	lower := strings.ToLower(q.Text)
	for _, t := range topicAnswers {
		for _, w := range t.words {
			if strings.Contains(lower, w) {
				return Answer{Text: t.answer, Source: "fallback"}, nil
			}
		}
	}
	return Answer{Text: GeneralAnswer, Source: "fallback"}, nil
}
