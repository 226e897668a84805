package domain

import "strings"

type MarginType string

const (
	MarginStablecoin MarginType = "stablecoin"
	MarginToken      MarginType = "token"
)

func ParseMarginType(s string) (MarginType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stablecoin", "usdt", "u":
		return MarginStablecoin, true
	case "token", "coin":
		return MarginToken, true
	}
	return "", false
}

type QuoteStatus int

const (
	StatusActive    QuoteStatus = 1
	StatusPredicted QuoteStatus = 2
)

// ExchangeQuote is one exchange's funding data for a token in one margin list.
type ExchangeQuote struct {
	Exchange        string      `json:"exchange"`
	FundingRate     float64     `json:"funding_rate"`
	IntervalHours   float64     `json:"funding_rate_interval"`
	NextFundingTime *int64      `json:"next_funding_time"`
	PredictedRate   *float64    `json:"predicted_rate"`
	Price           float64     `json:"price"`
	Status          QuoteStatus `json:"status"`
	LogoRef         string      `json:"logo,omitempty"`
}

func (q ExchangeQuote) Clone() ExchangeQuote {
	out := q
	if q.NextFundingTime != nil {
		v := *q.NextFundingTime
		out.NextFundingTime = &v
	}
	if q.PredictedRate != nil {
		v := *q.PredictedRate
		out.PredictedRate = &v
	}
	return out
}

type Token struct {
	Symbol           string          `json:"symbol"`
	LogoRef          string          `json:"logo,omitempty"`
	IndexPrice       *float64        `json:"index_price"`
	StablecoinQuotes []ExchangeQuote `json:"stablecoin_margin_list"`
	TokenQuotes      []ExchangeQuote `json:"token_margin_list"`
}

// Quotes returns the quote list selected by the margin type.
func (t Token) Quotes(m MarginType) []ExchangeQuote {
	if m == MarginToken {
		return t.TokenQuotes
	}
	return t.StablecoinQuotes
}

func (t Token) Clone() Token {
	out := t
	if t.IndexPrice != nil {
		v := *t.IndexPrice
		out.IndexPrice = &v
	}
	out.StablecoinQuotes = cloneQuotes(t.StablecoinQuotes)
	out.TokenQuotes = cloneQuotes(t.TokenQuotes)
	return out
}

func cloneQuotes(in []ExchangeQuote) []ExchangeQuote {
	out := make([]ExchangeQuote, len(in))
	for i, q := range in {
		out[i] = q.Clone()
	}
	return out
}

// Snapshot is an immutable view of the canonical token collection.
// Version increases on every applied change.
type Snapshot struct {
	Version uint64  `json:"version"`
	Tokens  []Token `json:"tokens"`
}

// Find returns the token for a normalized symbol.
func (s Snapshot) Find(symbol string) (Token, bool) {
	for _, t := range s.Tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func NormalizeExchange(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
