package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/funding_board/internal/domain"
)

func quote(exchange string, rate float64) domain.ExchangeQuote {
	return domain.ExchangeQuote{Exchange: exchange, FundingRate: rate, IntervalHours: 8, Status: domain.StatusActive}
}

func token(symbol string, quotes ...domain.ExchangeQuote) domain.Token {
	return domain.Token{Symbol: symbol, StablecoinQuotes: quotes}
}

func exchangeKeys(quotes []domain.ExchangeQuote) []string {
	out := make([]string, len(quotes))
	for i, q := range quotes {
		out[i] = q.Exchange
	}
	return out
}

func rowSymbols(rows []TokenRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Symbol
	}
	return out
}

func TestBuildView_DisplayModeDivergence(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("X", quote("a", 0.20), quote("b", 0.05)),
		token("Y", quote("a", 0.01), quote("b", 0.02)),
	}}
	cfg := domain.DefaultFilterConfig()
	cfg.Enabled = true
	cfg.MinFundingRate = 0.15

	cfg.DisplayMode = domain.DisplayAnyQualifies
	view := BuildView(snap, Query{Filter: cfg})
	require.Equal(t, []string{"X"}, rowSymbols(view.Tokens))
	assert.ElementsMatch(t, []string{"a", "b"}, exchangeKeys(view.Tokens[0].FilteredExchanges))

	cfg.DisplayMode = domain.DisplayOnlyQualified
	view = BuildView(snap, Query{Filter: cfg})
	require.Equal(t, []string{"X"}, rowSymbols(view.Tokens))
	assert.Equal(t, []string{"a"}, exchangeKeys(view.Tokens[0].FilteredExchanges))
	assert.InDelta(t, 0.20, view.Tokens[0].AverageRate, 1e-12)
}

func TestBuildView_DisabledFilterShowsEverything(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("X", quote("a", 0.20)),
		token("Y", quote("a", -0.01)),
		{Symbol: "Z", TokenQuotes: []domain.ExchangeQuote{quote("a", 0.1)}},
	}}
	cfg := domain.DefaultFilterConfig()
	cfg.MinFundingRate = 0.15
	cfg.RateSign = domain.RateSignLong

	view := BuildView(snap, Query{Filter: cfg})
	assert.ElementsMatch(t, []string{"X", "Y"}, rowSymbols(view.Tokens), "Z has no stablecoin quotes")
}

func TestBuildView_RateSign(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("LONG", quote("a", 0.01)),
		token("SHORT", quote("a", -0.01)),
		token("MIXED", quote("a", 0.01), quote("b", -0.02)),
	}}
	cfg := domain.DefaultFilterConfig()
	cfg.Enabled = true
	cfg.RateSign = domain.RateSignShort

	view := BuildView(snap, Query{Filter: cfg})
	assert.ElementsMatch(t, []string{"SHORT", "MIXED"}, rowSymbols(view.Tokens))
	for _, row := range view.Tokens {
		for _, q := range row.FilteredExchanges {
			assert.Negative(t, q.FundingRate)
		}
	}
}

func TestBuildView_VisibilityAppliesWhenDisabled(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("X", quote("a", 0.01), quote("b", 0.02)),
		token("Y", quote("b", 0.03)),
	}}
	cfg := domain.DefaultFilterConfig().WithVisibility(domain.MarginStablecoin, "b", false)

	view := BuildView(snap, Query{Filter: cfg})
	require.Equal(t, []string{"X"}, rowSymbols(view.Tokens))
	assert.Equal(t, []string{"a"}, exchangeKeys(view.Tokens[0].FilteredExchanges))
	assert.InDelta(t, 0.02, view.Tokens[0].BestFR, 1e-12, "bestFR uses every quote")
	assert.Len(t, view.Exchanges, 2, "hidden exchanges stay in the catalogue")
}

func TestBuildView_IntervalAndStatus(t *testing.T) {
	predicted := quote("b", 0.01)
	predicted.Status = domain.StatusPredicted
	hourly := quote("c", 0.01)
	hourly.IntervalHours = 1

	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("X", quote("a", 0.01), predicted, hourly),
	}}
	cfg := domain.DefaultFilterConfig()
	cfg.Enabled = true
	cfg.FundingIntervalHours = 8
	cfg.Status = domain.StatusFilterActive

	view := BuildView(snap, Query{Filter: cfg})
	require.Len(t, view.Tokens, 1)
	assert.Equal(t, []string{"a"}, exchangeKeys(view.Tokens[0].FilteredExchanges))
}

func TestBuildView_SearchIsCaseInsensitive(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("BTC", quote("a", 0.01)),
		token("WBTC", quote("a", 0.01)),
		token("ETH", quote("a", 0.01)),
	}}
	view := BuildView(snap, Query{Search: " btc ", Filter: domain.DefaultFilterConfig()})
	assert.ElementsMatch(t, []string{"BTC", "WBTC"}, rowSymbols(view.Tokens))
}

func TestBuildView_SortIsStable(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("C", quote("a", 0.01), quote("b", 0.01)),
		token("A", quote("a", 0.01)),
		token("B", quote("a", 0.01)),
		token("D", quote("a", 0.01), quote("b", 0.01)),
	}}
	cfg := domain.DefaultFilterConfig()

	view := BuildView(snap, Query{Filter: cfg})
	assert.Equal(t, []string{"C", "D", "A", "B"}, rowSymbols(view.Tokens))

	cfg.SortOrder = domain.SortAsc
	view = BuildView(snap, Query{Filter: cfg})
	assert.Equal(t, []string{"A", "B", "C", "D"}, rowSymbols(view.Tokens))

	cfg.SortBy = domain.SortBySymbol
	cfg.SortOrder = domain.SortDesc
	view = BuildView(snap, Query{Filter: cfg})
	assert.Equal(t, []string{"D", "C", "B", "A"}, rowSymbols(view.Tokens))
}

func TestBuildView_ExchangeCatalogue(t *testing.T) {
	predicted := quote("okx", -0.05)
	predicted.Status = domain.StatusPredicted
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("X", quote("binance", 0.01), predicted),
		token("Y", quote("binance", 0.02), quote("okx", 0.01)),
	}}
	cfg := domain.DefaultFilterConfig()

	view := BuildView(snap, Query{Filter: cfg})
	require.Len(t, view.Exchanges, 2)
	assert.Equal(t, "binance", view.Exchanges[0].Key)
	assert.Equal(t, 2, view.Exchanges[0].ActiveCount)
	assert.Equal(t, "okx", view.Exchanges[1].Key)
	assert.Equal(t, 1, view.Exchanges[1].ActiveCount)
	assert.InDelta(t, 0.05, view.Exchanges[1].BestFR, 1e-12)
	assert.Equal(t, "OKX", view.Exchanges[1].DisplayName)

	cfg.ExchangeSortBy = domain.ExchangeSortBestRate
	view = BuildView(snap, Query{Filter: cfg})
	assert.Equal(t, "okx", view.Exchanges[0].Key)

	// Row projection follows catalogue order.
	row := view.Tokens[0]
	assert.Equal(t, []string{"okx", "binance"}, exchangeKeys(row.FilteredExchanges))
}

func TestBuildView_MarginTypeSelectsList(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		{Symbol: "X", StablecoinQuotes: []domain.ExchangeQuote{quote("a", 0.01)}, TokenQuotes: []domain.ExchangeQuote{quote("b", 0.02)}},
	}}
	view := BuildView(snap, Query{MarginType: domain.MarginToken, Filter: domain.DefaultFilterConfig()})
	require.Len(t, view.Tokens, 1)
	assert.Equal(t, []string{"b"}, exchangeKeys(view.Tokens[0].FilteredExchanges))
	assert.Equal(t, domain.MarginToken, view.MarginType)
}

func TestQueryEngine_Memoizes(t *testing.T) {
	e := NewQueryEngine()
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{token("X", quote("a", 0.01))}}
	q := Query{Filter: domain.DefaultFilterConfig()}

	first := e.Compute(snap, q)
	second := e.Compute(snap, q)
	require.Len(t, first.Tokens, 1)
	assert.Same(t, &first.Tokens[0], &second.Tokens[0], "identical inputs return the cached view")

	q.Search = "zzz"
	third := e.Compute(snap, q)
	assert.Empty(t, third.Tokens)
}

func TestBuildView_Deterministic(t *testing.T) {
	snap := domain.Snapshot{Version: 3, Tokens: []domain.Token{
		token("A", quote("x", 0.01), quote("y", 0.02), quote("z", 0.03)),
		token("B", quote("z", 0.01), quote("x", 0.02)),
		token("C", quote("y", 0.01)),
	}}
	q := Query{Filter: domain.DefaultFilterConfig()}
	want := BuildView(snap, q)
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, BuildView(snap, q))
	}
}

func TestBuildView_BestRateTiesKeepInputOrder(t *testing.T) {
	snap := domain.Snapshot{Version: 1, Tokens: []domain.Token{
		token("LOW", quote("a", 0.001)),
		token("FIRST", quote("a", 0.01), quote("b", -0.03)),
		token("SECOND", quote("c", 0.03)),
		token("THIRD", quote("a", -0.03), quote("c", 0.002)),
	}}
	cfg := domain.DefaultFilterConfig()
	cfg.SortBy = domain.SortByBestRate

	view := BuildView(snap, Query{Filter: cfg})
	assert.Equal(t, []string{"FIRST", "SECOND", "THIRD", "LOW"}, rowSymbols(view.Tokens))

	cfg.SortOrder = domain.SortAsc
	view = BuildView(snap, Query{Filter: cfg})
	assert.Equal(t, []string{"LOW", "FIRST", "SECOND", "THIRD"}, rowSymbols(view.Tokens))
}

func TestQueryEngine_SameVersionDifferentSnapshots(t *testing.T) {
	e := NewQueryEngine()
	q := Query{Filter: domain.DefaultFilterConfig()}

	first := e.Compute(domain.Snapshot{Version: 1, Tokens: []domain.Token{token("X", quote("a", 0.01))}}, q)
	require.Len(t, first.Tokens, 1)
	assert.Equal(t, "X", first.Tokens[0].Symbol)

	second := e.Compute(domain.Snapshot{Version: 1, Tokens: []domain.Token{token("Y", quote("a", 0.02))}}, q)
	require.Len(t, second.Tokens, 1)
	assert.Equal(t, "Y", second.Tokens[0].Symbol)

	empty := e.Compute(domain.Snapshot{Version: 1}, q)
	assert.Empty(t, empty.Tokens)
}
