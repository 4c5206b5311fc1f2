package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hubenschmidt/telecaller/internal/session"
)

type kbEntry struct {
	pattern *regexp.Regexp
	answer  string
}

func kb(pattern, answer string) kbEntry {
	return kbEntry{pattern: regexp.MustCompile("(?i)" + pattern), answer: answer}
}

// Checked in order against the preprocessed query; first match wins.
var knowledgeBase = []kbEntry{
	// buying
	kb(`(buy|buying|purchase|purchasing).*house|home`,
		"The home buying process typically involves getting pre-approved for a mortgage, finding a real estate agent, viewing properties, making an offer, conducting inspections, and closing the deal. We recommend starting with mortgage pre-approval to understand your budget. Our agents can guide you through each step of this process."),
	kb(`(mortgage|loan).*process|work|get|apply|qualify`,
		"To get a mortgage, you'll need to apply with a lender, provide financial documentation like income verification and tax returns, undergo a credit check, and have the property appraised. Most mortgages are 15 or 30-year terms with fixed or adjustable rates. We recommend shopping around for the best interest rates and can connect you with trusted local lenders."),
	kb(`(down payment|downpayment)`,
		"Traditional mortgages typically require a 20% down payment, but there are many programs available for first-time buyers that allow down payments as low as 3-5%. FHA loans require just 3.5% down, and VA loans for veterans may require no down payment at all. Many states also offer down payment assistance programs for qualified buyers."),
	kb(`(first.time.buyer|first.time.home.buyer)`,
		"First-time homebuyers have access to special programs including FHA loans with low down payments, state-specific assistance programs, and possible tax credits. Many lenders offer specialized products for first-time buyers, and you may qualify for down payment assistance. Our team can connect you with resources specifically designed for first-time homebuyers."),
	kb(`(pre-approval|preapproval|pre approval)`,
		"Mortgage pre-approval involves a lender reviewing your finances to determine how much you can borrow. This process typically requires documentation of income, assets, employment history, and a credit check. Getting pre-approved gives you a clear budget and shows sellers you're a serious buyer. We recommend getting pre-approved before starting your home search."),
	kb(`(house|home).*(inspection|inspector)`,
		"A home inspection is a crucial step in the buying process where a professional examines the property's condition, including structural elements, electrical systems, plumbing, and more. The inspector will provide a detailed report of issues and recommended repairs. Inspections typically cost $300-600 and can help you negotiate repairs or price adjustments with the seller."),
	kb(`(closing|settlement).*(process|work)`,
		"The closing process is the final step in a real estate transaction where ownership is transferred. It involves reviewing and signing documents, paying closing costs, and receiving keys to your new property. The process usually takes 1-2 hours, and you'll need to bring identification and any required certified funds."),
	kb(`(earnest|good faith).*(money|deposit)`,
		"Earnest money is a deposit made to show you're serious about buying a property. It's typically 1-3% of the purchase price and is held in escrow until closing, when it's applied to your down payment or closing costs. If you back out for reasons not covered by your contract contingencies, you may forfeit this deposit."),

	// selling
	kb(`(sell|selling).*house|home`,
		"To sell your home, you'll need to prepare it for listing, price it appropriately, market it effectively, negotiate offers, and handle closing procedures. Our agents can help with staging recommendations, professional photography, pricing strategy, and extensive marketing to maximize your sale price and streamline the process."),
	kb(`(house|home).*(worth|value)|property.*value|value.*property|home valuation`,
		"Property values are determined by factors including location, size, condition, comparable sales, and current market conditions. Recent improvements, school districts, and neighborhood amenities also impact value. We can provide a free, no-obligation comparative market analysis to give you an accurate estimate of your home's value in today's market."),
	kb(`(market|sell).*house|sell.*quickly|home selling tips`,
		"To market your house effectively, professional photography, virtual tours, broad online listing exposure, and staging are key strategies. Pricing correctly from the start is crucial. Our marketing approach includes professional photography, virtual tours, targeted online ads, and our buyer network to sell your home quickly and for top dollar."),
	kb(`(stage|staging).*(home|house)`,
		"Home staging highlights your property's best features to make it more appealing to buyers. Effective staging includes decluttering, depersonalizing, cleaning thoroughly, making minor repairs, and arranging furniture to showcase space and flow. Professional staging typically costs $800-1200 but can increase your sale price by 5-10% and reduce time on market."),
	kb(`(sell).*(timeline|process|steps)`,
		"The typical home selling process takes 2-3 months from listing to closing. Key steps include preparing your home, pricing, photography, listing, showings, reviewing offers, negotiating, inspection, appraisal, and finally closing. Our team manages this timeline to make the process as smooth as possible."),
	kb(`(commission|realtor.*fee|agent.*fee)`,
		"Real estate commission is typically 5-6% of the sale price, split between the listing and buyer's agents. This fee covers marketing, photography, negotiation, contract management, and guidance through the entire selling process. Commission is only paid when your home sells, and the exact rate can be discussed during a listing consultation."),

	// investing
	kb(`(cap rate|capitalization rate)`,
		"A cap rate is a property's net operating income divided by its purchase price. For residential rentals, 4 to 10 percent is generally considered a good cap rate. Expect lower rates in high-demand areas and higher rates where risk is greater. Compare cap rates across similar properties before you commit."),
	kb(`(cash flow|cashflow)`,
		"Cash flow is the rent you collect minus every expense, including the mortgage, taxes, insurance, maintenance, vacancies and property management, which typically runs 8-12% of rent. Many investors look for at least $100 to $200 of positive monthly cash flow per door. Our investment specialists can help you run the numbers on a specific property."),

	// market
	kb(`market.*(condition|trend|forecast|outlook)`,
		"The current real estate market shows moderate growth with inventory levels improving in most areas. Interest rates remain a key factor affecting buyer demand. Local markets vary significantly, with some neighborhoods seeing price increases while others stabilize. Our agents can provide detailed market analysis for specific areas you're interested in."),
	kb(`(interest rate|mortgage rate)`,
		"Current mortgage interest rates are fluctuating based on economic factors. Rates for 30-year fixed mortgages have been competitive in recent months, and variations depend on loan type, credit score, and down payment amount. For the most up-to-date rates and personalized quotes, we recommend checking with lenders directly."),
	kb(`(investment|investing|property investment|rental property)`,
		"Real estate investments can include residential rentals, commercial properties, REITs, or fix-and-flip projects. Each strategy has different risk levels, returns, and management requirements. Rental properties typically provide both monthly income and long-term appreciation. The best approach depends on your financial goals, risk tolerance, and how active you want to be as an investor."),
	kb(`(renting|rent).*(vs|versus|or).*(buying|buy)`,
		"The rent vs. buy decision depends on your financial situation, stability needs, and long-term goals. Buying builds equity and provides tax benefits but requires upfront costs and maintenance. Renting offers flexibility but doesn't build equity. Generally, if you plan to stay in an area for at least 3-5 years, buying often makes financial sense."),
	kb(`(housing bubble|crash|correction)`,
		"The current market shows little evidence of a housing bubble like 2008. Today's market is supported by stricter lending standards, low housing inventory, and genuine buyer demand rather than speculation. Some price moderation may occur with interest rate changes, but most analysts don't anticipate a significant crash."),

	// general
	kb(`closing.*cost`,
		"Closing costs typically range from 2-5% of the loan amount and include fees for loan origination, appraisal, title insurance, attorney services, and taxes. Buyers usually pay more in closing costs than sellers, though some costs can be negotiated. Seller closing costs often include agent commissions, transfer taxes, and prorated property taxes."),
	kb(`(real estate agent|realtor)`,
		"A good real estate agent provides market expertise, negotiation skills, and guidance throughout the buying or selling process. They should have local knowledge, strong communication, and a track record of successful transactions. Our agents average over 10 years of experience, and we'd be happy to connect you with one."),
	kb(`property tax|tax.*property`,
		"Property taxes vary by location and are typically based on the assessed value of your property. They fund local services like schools, police, fire protection, and infrastructure. Rates are set by local governments and can change annually, and some areas offer exemptions for primary residences, seniors, or veterans."),
	kb(`(homeowner.*insurance|insurance.*home)`,
		"Homeowner's insurance covers damage to your property and liability for injuries on your property. Typical policies cost $800-1500 annually depending on home value, location, and coverage. Lenders require insurance if you have a mortgage, so we recommend getting quotes from multiple insurers."),
	kb(`(contingency|contingencies)`,
		"Contingencies are conditions in a purchase agreement that must be met for the deal to proceed. Common ones cover financing, appraisal, inspection, and the sale of the buyer's current home. They protect buyers from losing earnest money if specific conditions aren't met."),
	kb(`(hoa|homeowners association)`,
		"Homeowners Associations govern shared communities like condos and planned developments. They enforce community rules, maintain common areas, and collect dues that typically range from $100-500 a month. Before buying in an HOA community, review its financial health, rules, and restrictions."),

	// financing
	kb(`(adjustable|arm|variable).*(rate|mortgage)`,
		"Adjustable-rate mortgages offer lower initial rates that adjust periodically based on market indexes. A 5/1 or 7/1 ARM is fixed for 5 or 7 years before adjusting annually. ARMs can save money if you plan to move before the fixed period ends but carry risk if rates rise significantly."),
	kb(`(fha|va|usda).*(loan|mortgage)`,
		"Government-backed loans offer alternatives to conventional mortgages. FHA loans allow down payments as low as 3.5% with lower credit score requirements. VA loans for veterans offer no down payment and competitive rates, and USDA loans support rural homebuyers. Each program has its own qualification and mortgage insurance rules."),
	kb(`(pmi|private mortgage insurance)`,
		"Private Mortgage Insurance is required when you put less than 20% down on a conventional loan. It typically costs 0.5-1.5% of the loan amount annually and can be removed once you reach 20% equity. FHA loans have their own mortgage insurance that may last the life of the loan."),
	kb(`(refinance|refinancing)`,
		"Refinancing replaces your current mortgage with a new loan, usually to lower your rate, reduce payments, shorten the term, or access equity. It involves an application, documentation, appraisal, and closing costs. Refinancing generally makes sense if you can cut your rate by at least 0.75-1% and stay long enough to recoup the costs."),
	kb(`(credit score|fico).*mortgage`,
		"Credit scores significantly impact mortgage approval and interest rates. Conventional loans typically require at least 620, with the best rates above 740. FHA loans accept scores as low as 580 with 3.5% down. Your score can move your rate by 0.5-1%, which changes your payment by hundreds of dollars a month."),

	// property types
	kb(`(new construction|new build|building).*home`,
		"Buying new construction offers modern designs, customization options, and less maintenance, typically at premium prices. The process involves selecting a builder, lot, floor plan and finishes, with timelines of 6-12 months. Having your own agent represent you with builders can help negotiate upgrades and contingencies."),
	kb(`(condo|condominium|townhouse|townhome)`,
		"Condos and townhomes offer homeownership with typically lower prices and maintenance than single-family homes. They have shared walls and HOA fees that cover exterior maintenance and amenities. Financing can be more involved because the whole complex may need lender approval."),
	kb(`(luxury|high.end|premium).*(home|property)`,
		"Luxury real estate typically represents the top 10% of a market and needs specialized marketing to reach qualified buyers. These homes often take longer to sell. Our luxury division provides enhanced photography, video tours, and private showings to qualified buyers."),

	// company
	kb(`premier.*service|service.*premier|your company`,
		"Premier Real Estate Services offers comprehensive support for buying, selling, and investing in properties. Our experienced agents provide personalized service, market expertise, and proven strategies to help you reach your real estate goals."),
	kb(`work.*with.*premier|choose.*premier`,
		"Working with Premier Real Estate Services gives you experienced agents averaging over 10 years in the business, deep market knowledge, and a client-focused approach. Over 90% of our business comes from referrals and repeat clients."),

	// advanced
	kb(`(1031|like.kind).*(exchange|swap)`,
		"A 1031 exchange lets investors defer capital gains taxes by reinvesting sale proceeds into a similar investment property. You must identify the replacement property within 45 days and close within 180 days. We have specialists who can guide you through the process."),
	kb(`(off.market|pocket).*(listing|sale)`,
		"Off-market or pocket listings are sold without being publicly listed. They can give sellers privacy and give buyers less competition. Our agent network gives us access to off-market opportunities that aren't available to the general public."),
	kb(`(short sale|foreclosure|reo|bank owned)`,
		"Distressed properties like foreclosures and short sales can offer value but come with complications. Foreclosures are sold as-is and often need repairs, while short sales need lender approval and can take 3-6 months to close. They may sell 10-30% below market but require patience and often cash for repairs."),
	kb(`(commercial|retail|office|industrial).*(property|real estate)`,
		"Commercial real estate involves lease terms, tenant quality, income analysis, and zoning. Returns typically range from 5-12% depending on property type and location. Our commercial division can help evaluate investments or find business locations."),
	kb(`(seller|buyer).*(market|advantage)`,
		"In a seller's market limited inventory gives sellers pricing power and often multiple offers. In a buyer's market excess inventory allows more negotiation. Most areas are currently fairly balanced, with a slight edge to sellers in desirable neighborhoods."),
	kb(`(appraisal|appraiser)`,
		"A home appraisal is an independent valuation by a licensed appraiser, usually required by lenders. The appraiser considers condition, size, features, and comparable sales. If it comes in below the purchase price, buyers may renegotiate, add to the down payment, or challenge it."),
	kb(`(home warranty|warranty)`,
		"Home warranties cover repair or replacement of major systems and appliances, typically costing $300-600 a year plus service fees of $75-125. They don't cover known pre-existing conditions. Sellers often include one as a buyer incentive."),
	kb(`(bidding war|multiple offer|offer strategy)`,
		"In competitive markets, strong offers come from pre-approval, clean contracts with few contingencies, flexible closing dates, and sometimes escalation clauses. Our agents are skilled negotiators who can help your offer stand out."),
}

type category struct {
	name     string
	keywords []string
	answer   string
}

// Ties go to the earlier category.
var categories = []category{
	{"buying", []string{"buy", "buying", "purchase", "offer", "closing", "inspection", "escrow", "first-time", "house hunting"},
		"When buying a property, key considerations include your budget, location preferences, must-have features, and long-term plans. Getting pre-approved for a mortgage is an essential first step. What specific aspect of home buying are you interested in?"},
	{"selling", []string{"sell", "selling", "list", "market", "stage", "price", "value", "worth", "commission", "agent"},
		"Selling a home involves preparing your property, setting the right price, effective marketing, and negotiating offers. Our approach includes professional photography, strategic pricing, and skilled negotiation. Would you like specific information about any part of the selling process?"},
	{"financing", []string{"mortgage", "loan", "interest", "rate", "down payment", "pre-approval", "credit", "financing", "lender", "pmi"},
		"Real estate financing involves understanding loan types, interest rates, credit requirements, and down payment options. Conventional loans need stronger credit and larger down payments, while FHA loans offer more flexibility. What specific financing questions do you have?"},
	{"investment", []string{"invest", "investment", "rental", "income", "roi", "cash flow", "appreciation", "passive", "portfolio"},
		"Real estate investing can provide both rental income and appreciation. Common strategies include rentals, commercial properties, fix-and-flip projects, and REITs. The best approach depends on your goals and risk tolerance. How are you considering investing in real estate?"},
	{"market", []string{"market", "trend", "forecast", "appreciation", "depreciation", "bubble", "crash", "inventory", "demand"},
		"Real estate markets are local, with conditions varying by neighborhood. Prices are stabilizing with moderate growth in most areas, while inventory and interest rates continue to shape demand. Which location are you curious about?"},
	{"property", []string{"property", "home", "house", "condo", "townhouse", "land", "acre", "square foot", "bedroom", "bathroom"},
		"Properties range from single-family homes to condos, townhomes, and multi-family units, each with different space, maintenance, and investment trade-offs. What features are most important to you in a property?"},
}

var intentCategory = map[session.Intent]string{
	session.IntentBuying:    "buying",
	session.IntentSelling:   "selling",
	session.IntentFinancing: "financing",
	session.IntentInvesting: "investment",
	session.IntentMarket:    "market",
}

var namePattern = regexp.MustCompile(`my name is (\w+)`)

// KnowledgeResponder answers from a scripted real estate knowledge base:
// ordered regular-expression patterns first, then keyword category scoring.
type KnowledgeResponder struct{}

// NewKnowledgeResponder returns the scripted knowledge base responder.
func NewKnowledgeResponder() *KnowledgeResponder {
	return &KnowledgeResponder{}
}

// Answer implements Responder.
func (k *KnowledgeResponder) Answer(_ context.Context, q Query) (Answer, error) {
	normalized := preprocessQuery(q.Text)
	if normalized == "" {
		return Answer{Source: "knowledge"}, nil
	}

	text, ok := matchPattern(normalized)
	if !ok && q.FollowUp {
		text, ok = categoryAnswer(intentCategory[q.Intent])
	}
	if !ok {
		text, ok = categoryAnswer(identifyCategory(normalized))
	}
	if !ok {
		slog.Debug("no knowledge base match", "query", normalized)
		return Answer{Source: "knowledge"}, nil
	}
	return Answer{Text: personalize(text, q.History), Resolved: true, Source: "knowledge"}, nil
}

func matchPattern(normalized string) (string, bool) {
	for _, e := range knowledgeBase {
		if e.pattern.MatchString(normalized) {
			return e.answer, true
		}
	}
	return "", false
}

func identifyCategory(normalized string) string {
	best, bestScore := "", 0
	for _, c := range categories {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(normalized, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c.name, score
		}
	}
	return best
}

func categoryAnswer(name string) (string, bool) {
	for _, c := range categories {
		if c.name == name {
			return c.answer, true
		}
	}
	return "", false
}

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// preprocessQuery lowercases, trims and strips ASCII punctuation.
func preprocessQuery(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(asciiPunctuation, r) {
			return -1
		}
		return r
	}, text)
}

// personalize prefixes the answer with the caller's name when an earlier
// user message said "my name is X". Only applies once the conversation has
// at least two messages.
func personalize(answer string, history []session.Message) string {
	if len(history) < 2 {
		return answer
	}
	for _, m := range history {
		if m.Role != session.RoleUser {
			continue
		}
		match := namePattern.FindStringSubmatch(strings.ToLower(m.Content))
		if match == nil {
			continue
		}
		name := match[1]
		return strings.ToUpper(name[:1]) + name[1:] + ", " + answer
	}
	return answer
}
