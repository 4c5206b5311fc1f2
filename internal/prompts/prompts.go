package prompts

import (
	"fmt"
	"strings"
)

// DefaultCompany is the business the assistant speaks for.
const DefaultCompany = "Premier Real Estate Services"

const baseSystem = `You are a highly knowledgeable real estate assistant working for %s.
Your role is to provide accurate, helpful information about all aspects of real estate.

When responding to queries:
1. Provide specific, actionable information rather than vague statements.
2. Use natural conversational language suitable for a phone call.
3. Keep answers under 100 words when possible.
4. When discussing money, give specific ranges and percentages.
5. Acknowledge the question before answering.
6. End with a brief follow-up question.`

var intentGuidance = map[string]string{
	"buying": "Focus on buyer-specific information: the buying process, making offers, negotiation, financing options and first-time buyer considerations. Closing typically takes 30-45 days and buyer closing costs run 2-5%.",
	"selling": "Focus on seller-specific information: pricing strategy, marketing, staging, negotiating offers, seller closing costs (6-10%) and typical timelines (60-90 days).",
	"investing": "Focus on investment property information: ROI, cap rates (a good range is 4-10%), cash flow analysis, property management costs (8-12% of rent) and strategies such as fix-and-flip or buy-and-hold.",
	"financing": "Focus on mortgage and financing information: loan types, down payments, interest rates, pre-approval, debt-to-income ratios (typically 43% max) and credit scores (620+ conventional, 580+ FHA).",
	"market": "Focus on market conditions: current trends, supply and demand, appreciation, seasonality, inventory levels and buyer's versus seller's market indicators.",
}

// System returns the responder system prompt for company, with guidance for
// intent appended when one is known.
func System(company, intent string) string {
	if company == "" {
		company = DefaultCompany
	}
	prompt := fmt.Sprintf(baseSystem, company)
	if g, ok := intentGuidance[intent]; ok {
		prompt += "\n\n" + g
	}
	return prompt
}

// Script holds the fixed lines spoken during a call.
type Script struct {
	Greeting          string
	FirstPrompt       string
	NextPrompt        string
	NoInput           string
	LowConfidence     string
	LowConfidenceAsk  string
	Closing           string
	EmptyAnswer       string
	Apology           string
	ApologyPrompt     string
	UnknownResponse   string
	UnknownPrompt     string
	InterruptAck      string
	InterruptPrompt   string
	CompletionPrompt  string
	MissingCapability string
}

// NewScript fills the call script for company.
func NewScript(company string) Script {
	if company == "" {
		company = DefaultCompany
	}
	return Script{
		Greeting: fmt.Sprintf("Hello, I'm calling from %s. I'm an AI assistant here to answer your questions about "+
			"buying, selling, mortgages, market trends, or any other real estate topics. How can I help you today?", company),
		FirstPrompt:       "Please go ahead with your question.",
		NextPrompt:        "Do you have another real estate question I can help with?",
		NoInput:           "I didn't hear anything. Please speak clearly when you're ready.",
		LowConfidence:     "I'm sorry, I didn't catch that clearly. Could you please speak a bit louder and more clearly?",
		LowConfidenceAsk:  "Please ask your real estate question clearly.",
		Closing:           fmt.Sprintf("Thank you for calling %s. If you have more questions in the future, feel free to call us again. Have a great day!", company),
		EmptyAnswer:       "I understand you have a question about real estate. I'd be happy to help with information about buying, selling, or investing in properties.",
		Apology:           "I'm sorry, we're experiencing technical difficulties. Please try again.",
		ApologyPrompt:     "Please ask your question again.",
		UnknownResponse:   "I apologize for the technical difficulty. Let's try again.",
		UnknownPrompt:     "How can I help you with your real estate questions?",
		InterruptAck:      "I understand. Let me address that.",
		InterruptPrompt:   "Please continue with your question.",
		CompletionPrompt:  "Is there anything else you'd like to know?",
		MissingCapability: "I'm sorry, but I'm having trouble connecting to my knowledge base. Please try again later.",
	}
}

// FormatHistory renders messages as "role: content" lines for engines that
// take a single input string.
func FormatHistory(lines [][2]string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l[0])
		b.WriteString(": ")
		b.WriteString(l[1])
		b.WriteByte('\n')
	}
	return b.String()
}
