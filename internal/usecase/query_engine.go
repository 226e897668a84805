package usecase

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vitos/funding_board/internal/domain"
)

// Query is everything besides the snapshot that shapes the view.
type Query struct {
	MarginType domain.MarginType   `json:"margin_type"`
	Search     string              `json:"search"`
	Filter     domain.FilterConfig `json:"filter"`
}

// ExchangeSummary is one column of the table.
type ExchangeSummary struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	ActiveCount int     `json:"active_count"`
	BestFR      float64 `json:"best_fr"` // largest |funding rate| on this exchange
}

// TokenRow is a token annotated for display.
type TokenRow struct {
	Symbol            string                 `json:"symbol"`
	LogoRef           string                 `json:"logo,omitempty"`
	IndexPrice        *float64               `json:"index_price"`
	Quotes            []domain.ExchangeQuote `json:"quotes"`
	FilteredExchanges []domain.ExchangeQuote `json:"filtered_exchanges"`
	BestFR            float64                `json:"best_fr"`
	AverageRate       float64                `json:"average_rate"`
}

type View struct {
	SnapshotVersion uint64            `json:"snapshot_version"`
	MarginType      domain.MarginType `json:"margin_type"`
	Exchanges       []ExchangeSummary `json:"exchanges"`
	Tokens          []TokenRow        `json:"tokens"`
}

// QueryEngine derives the display view. It is a pure function of its
// inputs; the only state is a single-entry memo of the last result.
type QueryEngine struct {
	mu         sync.Mutex
	lastKey    uint64
	lastTokens []domain.Token
	lastOK     bool
	last       View
}

func NewQueryEngine() *QueryEngine {
	return &QueryEngine{}
}

// Compute returns the view for snap and q. Identical inputs return the
// same View value. A memo hit needs the same version and query and the
// same token slice, so snapshots built outside the reconciler that reuse
// a version are still recomputed.
func (e *QueryEngine) Compute(snap domain.Snapshot, q Query) View {
	key := memoKey(snap.Version, q)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastOK && e.lastKey == key && sameTokens(e.lastTokens, snap.Tokens) {
		return e.last
	}
	e.last = BuildView(snap, q)
	e.lastKey = key
	e.lastTokens = snap.Tokens
	e.lastOK = true
	return e.last
}

// sameTokens reports whether a and b share one backing array and length.
func sameTokens(a, b []domain.Token) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func memoKey(version uint64, q Query) uint64 {
	// encoding/json sorts map keys, so equal queries encode identically.
	b, _ := json.Marshal(q)
	d := xxhash.New()
	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(version >> (8 * i))
	}
	_, _ = d.Write(v[:])
	_, _ = d.Write(b)
	return d.Sum64()
}

// BuildView runs the filter, projection and sort pipeline.
func BuildView(snap domain.Snapshot, q Query) View {
	margin := q.MarginType
	if margin == "" {
		margin = domain.MarginStablecoin
	}
	cfg := q.Filter.Normalize()

	catalogue := buildCatalogue(snap.Tokens, margin)
	sortCatalogue(catalogue, cfg.ExchangeSortBy, cfg.ExchangeSortOrder)

	search := strings.ToLower(strings.TrimSpace(q.Search))
	rows := make([]TokenRow, 0, len(snap.Tokens))
	for _, t := range snap.Tokens {
		quotes := t.Quotes(margin)
		if len(quotes) == 0 {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Symbol), search) {
			continue
		}
		if cfg.Enabled && !tokenQualifies(quotes, margin, cfg) {
			continue
		}

		filtered := projectExchanges(quotes, catalogue, margin, cfg)
		if len(filtered) == 0 {
			continue
		}
		rows = append(rows, TokenRow{
			Symbol:            t.Symbol,
			LogoRef:           t.LogoRef,
			IndexPrice:        t.IndexPrice,
			Quotes:            quotes,
			FilteredExchanges: filtered,
			BestFR:            bestAbsRate(quotes),
			AverageRate:       averageRate(filtered),
		})
	}

	sortRows(rows, cfg.SortBy, cfg.SortOrder)

	return View{
		SnapshotVersion: snap.Version,
		MarginType:      margin,
		Exchanges:       catalogue,
		Tokens:          rows,
	}
}

func buildCatalogue(tokens []domain.Token, margin domain.MarginType) []ExchangeSummary {
	byKey := make(map[string]*ExchangeSummary)
	for _, t := range tokens {
		for _, q := range t.Quotes(margin) {
			s, ok := byKey[q.Exchange]
			if !ok {
				s = &ExchangeSummary{Key: q.Exchange, DisplayName: domain.ExchangeDisplayName(q.Exchange)}
				byKey[q.Exchange] = s
			}
			if q.Status == domain.StatusActive {
				s.ActiveCount++
			}
			if r := math.Abs(q.FundingRate); r >= s.BestFR {
				s.BestFR = r
			}
		}
	}

	out := make([]ExchangeSummary, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	// Deterministic base order before the stable sort.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func sortCatalogue(c []ExchangeSummary, by domain.ExchangeSortField, order domain.SortOrder) {
	sign := order.Sign()
	sort.SliceStable(c, func(i, j int) bool {
		var cmp int
		switch by {
		case domain.ExchangeSortName:
			cmp = strings.Compare(c[i].DisplayName, c[j].DisplayName)
		case domain.ExchangeSortBestRate:
			cmp = compareFloat(c[i].BestFR, c[j].BestFR)
		default:
			cmp = compareInt(c[i].ActiveCount, c[j].ActiveCount)
		}
		return cmp*sign < 0
	})
}

func tokenQualifies(quotes []domain.ExchangeQuote, margin domain.MarginType, cfg domain.FilterConfig) bool {
	for _, q := range quotes {
		if cfg.IsVisible(margin, q.Exchange) && matchesStructure(q, cfg) && meetsThreshold(q, cfg) {
			return true
		}
	}
	return false
}

// projectExchanges lists the token's quotes in catalogue order.
func projectExchanges(quotes []domain.ExchangeQuote, catalogue []ExchangeSummary, margin domain.MarginType, cfg domain.FilterConfig) []domain.ExchangeQuote {
	byExchange := make(map[string]domain.ExchangeQuote, len(quotes))
	for _, q := range quotes {
		byExchange[q.Exchange] = q
	}

	out := make([]domain.ExchangeQuote, 0, len(quotes))
	for _, ex := range catalogue {
		q, ok := byExchange[ex.Key]
		if !ok || !cfg.IsVisible(margin, ex.Key) {
			continue
		}
		if cfg.Enabled {
			if !matchesStructure(q, cfg) {
				continue
			}
			if cfg.DisplayMode == domain.DisplayOnlyQualified && !meetsThreshold(q, cfg) {
				continue
			}
		}
		out = append(out, q)
	}
	return out
}

// matchesStructure checks sign, interval and status, but not the threshold.
func matchesStructure(q domain.ExchangeQuote, cfg domain.FilterConfig) bool {
	switch cfg.RateSign {
	case domain.RateSignLong:
		if q.FundingRate <= 0 {
			return false
		}
	case domain.RateSignShort:
		if q.FundingRate >= 0 {
			return false
		}
	}
	if cfg.FundingIntervalHours > 0 && q.IntervalHours != cfg.FundingIntervalHours {
		return false
	}
	switch cfg.Status {
	case domain.StatusFilterActive:
		return q.Status == domain.StatusActive
	case domain.StatusFilterPredicted:
		return q.Status == domain.StatusPredicted
	}
	return true
}

func meetsThreshold(q domain.ExchangeQuote, cfg domain.FilterConfig) bool {
	return math.Abs(q.FundingRate) >= cfg.MinFundingRate
}

func bestAbsRate(quotes []domain.ExchangeQuote) float64 {
	best := 0.0
	for _, q := range quotes {
		if r := math.Abs(q.FundingRate); r > best {
			best = r
		}
	}
	return best
}

func averageRate(quotes []domain.ExchangeQuote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	sum := 0.0
	for _, q := range quotes {
		sum += q.FundingRate
	}
	return sum / float64(len(quotes))
}

func sortRows(rows []TokenRow, by domain.SortField, order domain.SortOrder) {
	sign := order.Sign()
	sort.SliceStable(rows, func(i, j int) bool {
		var cmp int
		switch by {
		case domain.SortBySymbol:
			cmp = strings.Compare(rows[i].Symbol, rows[j].Symbol)
		case domain.SortByAverageRate:
			cmp = compareFloat(rows[i].AverageRate, rows[j].AverageRate)
		case domain.SortByBestRate:
			cmp = compareFloat(rows[i].BestFR, rows[j].BestFR)
		default:
			cmp = compareInt(len(rows[i].FilteredExchanges), len(rows[j].FilteredExchanges))
		}
		return cmp*sign < 0
	})
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
