package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vitos/funding_board/internal/domain"
)

const (
	fieldSymbol         = "symbol"
	fieldLogo           = "logo"
	fieldIndexPrice     = "index_price"
	fieldStablecoinList = "stablecoin_margin_list"
	fieldTokenList      = "token_margin_list"

	fieldExchange        = "exchange"
	fieldFundingRate     = "funding_rate"
	fieldInterval        = "funding_rate_interval"
	fieldNextFundingTime = "next_funding_time"
	fieldPredictedRate   = "predicted_rate"
	fieldPrice           = "price"
	fieldStatus          = "status"
)

// ParseTokenRecord converts one bulk snapshot record into a Token.
// A record that is not an object or has no symbol fails with
// ErrMalformedPayload. Bad quote entries are dropped and reported
// through the returned warnings.
func ParseTokenRecord(raw json.RawMessage) (domain.Token, []error, error) {
	d, warnings, err := ParseDeltaRecord(raw)
	if err != nil {
		return domain.Token{}, nil, err
	}
	return tokenFromDelta(d), warnings, nil
}

// ParseDeltaRecord converts one delta record into a TokenDelta that
// remembers which fields were supplied.
func ParseDeltaRecord(raw json.RawMessage) (domain.TokenDelta, []error, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.TokenDelta{}, nil, fmt.Errorf("%w: record is not an object", domain.ErrMalformedPayload)
	}

	symbol, err := parseString(fields[fieldSymbol])
	if err != nil || domain.NormalizeSymbol(symbol) == "" {
		return domain.TokenDelta{}, nil, fmt.Errorf("%w: missing symbol", domain.ErrMalformedPayload)
	}

	d := domain.TokenDelta{Symbol: domain.NormalizeSymbol(symbol)}
	var warnings []error

	if v, ok := present(fields, fieldLogo); ok {
		if s, err := parseString(v); err == nil {
			d.LogoRef = domain.Supplied(s)
		} else {
			warnings = append(warnings, fmt.Errorf("%s: logo: %w", d.Symbol, err))
		}
	}
	if v, ok := fields[fieldIndexPrice]; ok {
		f, isNull, err := parseNumber(v)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Errorf("%s: index_price: %w", d.Symbol, err))
		case isNull:
			d.IndexPrice = domain.Supplied[*float64](nil)
		default:
			d.IndexPrice = domain.Supplied(&f)
		}
	}

	var w []error
	d.StablecoinQuotes, d.HasStablecoin, w = parseQuoteList(d.Symbol, fieldStablecoinList, fields)
	warnings = append(warnings, w...)
	d.TokenQuotes, d.HasToken, w = parseQuoteList(d.Symbol, fieldTokenList, fields)
	warnings = append(warnings, w...)

	return d, warnings, nil
}

func parseQuoteList(symbol, key string, fields map[string]json.RawMessage) ([]domain.QuotePatch, bool, []error) {
	v, ok := present(fields, key)
	if !ok {
		return nil, false, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(v, &entries); err != nil {
		return nil, false, []error{fmt.Errorf("%w: %s: %s is not an array", domain.ErrMalformedPayload, symbol, key)}
	}

	var warnings []error
	patches := make([]domain.QuotePatch, 0, len(entries))
	for i, e := range entries {
		p, err := parseQuote(e)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %s[%d]: %w", symbol, key, i, err))
			continue
		}
		patches = append(patches, p)
	}
	return patches, true, warnings
}

func parseQuote(raw json.RawMessage) (domain.QuotePatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.QuotePatch{}, fmt.Errorf("%w: quote is not an object", domain.ErrMalformedPayload)
	}
	name, err := parseString(fields[fieldExchange])
	if err != nil || domain.NormalizeExchange(name) == "" {
		return domain.QuotePatch{}, fmt.Errorf("%w: quote has no exchange", domain.ErrMalformedPayload)
	}
	p := domain.QuotePatch{Exchange: domain.NormalizeExchange(name)}

	// Every field is validated before anything is returned so that a
	// quote is applied whole or not at all.
	if v, ok := present(fields, fieldFundingRate); ok {
		f, isNull, err := parseNumber(v)
		if err != nil {
			return domain.QuotePatch{}, fmt.Errorf("funding_rate: %w", err)
		}
		if !isNull {
			p.FundingRate = domain.Supplied(f)
		}
	}
	if v, ok := present(fields, fieldInterval); ok {
		f, isNull, err := parseHours(v)
		if err != nil {
			return domain.QuotePatch{}, fmt.Errorf("funding_rate_interval: %w", err)
		}
		if !isNull {
			p.IntervalHours = domain.Supplied(f)
		}
	}
	if v, ok := fields[fieldNextFundingTime]; ok {
		f, isNull, err := parseNumber(v)
		if err != nil {
			return domain.QuotePatch{}, fmt.Errorf("next_funding_time: %w", err)
		}
		if isNull {
			p.NextFundingTime = domain.Supplied[*int64](nil)
		} else {
			ms := int64(f)
			// Some upstreams report seconds.
			if ms > 0 && ms < 1_000_000_000_000 {
				ms *= 1000
			}
			p.NextFundingTime = domain.Supplied(&ms)
		}
	}
	if v, ok := fields[fieldPredictedRate]; ok {
		f, isNull, err := parseNumber(v)
		if err != nil {
			return domain.QuotePatch{}, fmt.Errorf("predicted_rate: %w", err)
		}
		if isNull {
			p.PredictedRate = domain.Supplied[*float64](nil)
		} else {
			p.PredictedRate = domain.Supplied(&f)
		}
	}
	if v, ok := present(fields, fieldPrice); ok {
		f, isNull, err := parseNumber(v)
		if err != nil {
			return domain.QuotePatch{}, fmt.Errorf("price: %w", err)
		}
		if !isNull {
			p.Price = domain.Supplied(f)
		}
	}
	if v, ok := present(fields, fieldStatus); ok {
		st, err := parseStatus(v)
		if err != nil {
			return domain.QuotePatch{}, err
		}
		p.Status = domain.Supplied(st)
	}
	if v, ok := present(fields, fieldLogo); ok {
		s, err := parseString(v)
		if err != nil {
			return domain.QuotePatch{}, fmt.Errorf("logo: %w", err)
		}
		p.LogoRef = domain.Supplied(s)
	}
	return p, nil
}

func parseStatus(v json.RawMessage) (domain.QuoteStatus, error) {
	if s, err := parseString(v); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "active", "1":
			return domain.StatusActive, nil
		case "predicted", "2":
			return domain.StatusPredicted, nil
		}
		return 0, fmt.Errorf("%w: unknown status %q", domain.ErrMalformedPayload, s)
	}
	f, _, err := parseNumber(v)
	if err != nil {
		return 0, fmt.Errorf("status: %w", err)
	}
	switch domain.QuoteStatus(f) {
	case domain.StatusActive:
		return domain.StatusActive, nil
	case domain.StatusPredicted:
		return domain.StatusPredicted, nil
	}
	return 0, fmt.Errorf("%w: unknown status %v", domain.ErrMalformedPayload, f)
}

// present returns the raw value when the key exists and is not null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := fields[key]
	if !ok || isNullJSON(v) {
		return nil, false
	}
	return v, true
}

func isNullJSON(v json.RawMessage) bool {
	return len(v) == 0 || string(bytes.TrimSpace(v)) == "null"
}

func parseString(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: expected string", domain.ErrMalformedPayload)
	}
	return s, nil
}

// parseNumber accepts JSON numbers and numeric strings. Null and the
// empty string are reported as null.
func parseNumber(v json.RawMessage) (float64, bool, error) {
	v = bytes.TrimSpace(v)
	if isNullJSON(v) {
		return 0, true, nil
	}
	var f float64
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false, fmt.Errorf("%w: bad string", domain.ErrMalformedPayload)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, true, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %q is not a number", domain.ErrMalformedPayload, s)
		}
		f = parsed
	} else if err := json.Unmarshal(v, &f); err != nil {
		return 0, false, fmt.Errorf("%w: expected number", domain.ErrMalformedPayload)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: non-finite number", domain.ErrMalformedPayload)
	}
	return f, false, nil
}

// parseHours accepts 8, "8" and "8h".
func parseHours(v json.RawMessage) (float64, bool, error) {
	if s, err := parseString(v); err == nil {
		s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "h")
		quoted, _ := json.Marshal(s)
		return parseNumber(quoted)
	}
	return parseNumber(v)
}

func tokenFromDelta(d domain.TokenDelta) domain.Token {
	t := domain.Token{
		Symbol:           d.Symbol,
		LogoRef:          d.LogoRef.Value,
		IndexPrice:       d.IndexPrice.Value,
		StablecoinQuotes: quotesFromPatches(d.StablecoinQuotes),
		TokenQuotes:      quotesFromPatches(d.TokenQuotes),
	}
	return t
}

// quotesFromPatches builds a quote list, keeping one entry per exchange.
func quotesFromPatches(patches []domain.QuotePatch) []domain.ExchangeQuote {
	out := make([]domain.ExchangeQuote, 0, len(patches))
	for _, p := range patches {
		if i := indexOfExchange(out, p.Exchange); i >= 0 {
			applyQuotePatch(&out[i], p)
			continue
		}
		out = append(out, newQuote(p))
	}
	return out
}

func newQuote(p domain.QuotePatch) domain.ExchangeQuote {
	q := domain.ExchangeQuote{Exchange: p.Exchange, Status: domain.StatusActive}
	applyQuotePatch(&q, p)
	return q
}

func indexOfExchange(quotes []domain.ExchangeQuote, exchange string) int {
	for i := range quotes {
		if quotes[i].Exchange == exchange {
			return i
		}
	}
	return -1
}

// applyQuotePatch overwrites supplied fields and reports whether anything changed.
func applyQuotePatch(q *domain.ExchangeQuote, p domain.QuotePatch) bool {
	changed := false
	if p.FundingRate.Set && q.FundingRate != p.FundingRate.Value {
		q.FundingRate = p.FundingRate.Value
		changed = true
	}
	if p.IntervalHours.Set && q.IntervalHours != p.IntervalHours.Value {
		q.IntervalHours = p.IntervalHours.Value
		changed = true
	}
	if p.NextFundingTime.Set && !equalInt64Ptr(q.NextFundingTime, p.NextFundingTime.Value) {
		q.NextFundingTime = copyInt64Ptr(p.NextFundingTime.Value)
		changed = true
	}
	if p.PredictedRate.Set && !equalFloatPtr(q.PredictedRate, p.PredictedRate.Value) {
		q.PredictedRate = copyFloatPtr(p.PredictedRate.Value)
		changed = true
	}
	if p.Price.Set && q.Price != p.Price.Value {
		q.Price = p.Price.Value
		changed = true
	}
	if p.Status.Set && q.Status != p.Status.Value {
		q.Status = p.Status.Value
		changed = true
	}
	if p.LogoRef.Set && q.LogoRef != p.LogoRef.Value {
		q.LogoRef = p.LogoRef.Value
		changed = true
	}
	return changed
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyInt64Ptr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
