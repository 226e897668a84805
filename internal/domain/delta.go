package domain

// Patch carries a delta value and whether the delta supplied it at all.
type Patch[T any] struct {
	Set   bool
	Value T
}

func Supplied[T any](v T) Patch[T] {
	return Patch[T]{Set: true, Value: v}
}

// QuotePatch is a validated partial update for one exchange entry.
type QuotePatch struct {
	Exchange        string
	FundingRate     Patch[float64]
	IntervalHours   Patch[float64]
	NextFundingTime Patch[*int64]
	PredictedRate   Patch[*float64]
	Price           Patch[float64]
	Status          Patch[QuoteStatus]
	LogoRef         Patch[string]
}

// TokenDelta is a validated partial update for one symbol.
// HasStablecoin and HasToken report whether the list key was present.
type TokenDelta struct {
	Symbol           string
	LogoRef          Patch[string]
	IndexPrice       Patch[*float64]
	HasStablecoin    bool
	StablecoinQuotes []QuotePatch
	HasToken         bool
	TokenQuotes      []QuotePatch
}
