package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type RateSign string

const (
	RateSignAll   RateSign = "all"
	RateSignLong  RateSign = "long"  // rate > 0
	RateSignShort RateSign = "short" // rate < 0
)

type DisplayMode string

const (
	DisplayAnyQualifies  DisplayMode = "any"  // show every matching exchange once the token qualifies
	DisplayOnlyQualified DisplayMode = "only" // show only exchanges that clear the threshold
)

type StatusFilter string

const (
	StatusFilterAll       StatusFilter = "all"
	StatusFilterActive    StatusFilter = "active"
	StatusFilterPredicted StatusFilter = "predicted"
)

type SortField string

const (
	SortByExchangeCount SortField = "exchanges"
	SortBySymbol        SortField = "symbol"
	SortByAverageRate   SortField = "fundingRate"
	SortByBestRate      SortField = "bestFR"
)

type ExchangeSortField string

const (
	ExchangeSortName        ExchangeSortField = "name"
	ExchangeSortActiveCount ExchangeSortField = "activeCount"
	ExchangeSortBestRate    ExchangeSortField = "bestFR"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Sign returns the multiplier applied to comparisons.
func (o SortOrder) Sign() int {
	if o == SortAsc {
		return 1
	}
	return -1
}

type FilterGroup string

const (
	GroupRates        FilterGroup = "rates"
	GroupSort         FilterGroup = "sort"
	GroupExchangeSort FilterGroup = "exchangeSort"
	GroupVisibility   FilterGroup = "visibility"
)

// Filter keys accepted by FilterConfig.WithField.
const (
	KeyEnabled           = "enabled"
	KeyMinFundingRate    = "minFundingRate"
	KeyRateSign          = "rateSignFilter"
	KeyDisplayMode       = "displayMode"
	KeyFundingInterval   = "fundingInterval"
	KeyStatus            = "statusFilter"
	KeySortBy            = "sortBy"
	KeySortOrder         = "sortOrder"
	KeyExchangeSortBy    = "exchangeSortBy"
	KeyExchangeSortOrder = "exchangeSortOrder"
)

// FilterConfig is the persisted table configuration.
// FundingIntervalHours of 0 means all intervals.
type FilterConfig struct {
	Enabled                   bool              `json:"enabled"`
	MinFundingRate            float64           `json:"minFundingRate"`
	RateSign                  RateSign          `json:"rateSignFilter"`
	DisplayMode               DisplayMode       `json:"displayMode"`
	FundingIntervalHours      float64           `json:"fundingInterval"`
	Status                    StatusFilter      `json:"statusFilter"`
	SortBy                    SortField         `json:"sortBy"`
	SortOrder                 SortOrder         `json:"sortOrder"`
	ExchangeSortBy            ExchangeSortField `json:"exchangeSortBy"`
	ExchangeSortOrder         SortOrder         `json:"exchangeSortOrder"`
	StablecoinExchangeVisible map[string]bool   `json:"stablecoinExchangeVisible"`
	TokenExchangeVisible      map[string]bool   `json:"tokenExchangeVisible"`
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Enabled:                   false,
		MinFundingRate:            0,
		RateSign:                  RateSignAll,
		DisplayMode:               DisplayAnyQualifies,
		FundingIntervalHours:      0,
		Status:                    StatusFilterAll,
		SortBy:                    SortByExchangeCount,
		SortOrder:                 SortDesc,
		ExchangeSortBy:            ExchangeSortActiveCount,
		ExchangeSortOrder:         SortDesc,
		StablecoinExchangeVisible: map[string]bool{},
		TokenExchangeVisible:      map[string]bool{},
	}
}

func (c FilterConfig) Clone() FilterConfig {
	out := c
	out.StablecoinExchangeVisible = cloneVisibility(c.StablecoinExchangeVisible)
	out.TokenExchangeVisible = cloneVisibility(c.TokenExchangeVisible)
	return out
}

func cloneVisibility(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IsVisible reports the visibility toggle; unseen exchanges are visible.
func (c FilterConfig) IsVisible(m MarginType, exchange string) bool {
	vis := c.StablecoinExchangeVisible
	if m == MarginToken {
		vis = c.TokenExchangeVisible
	}
	v, ok := vis[NormalizeExchange(exchange)]
	return !ok || v
}

func (c FilterConfig) WithVisibility(m MarginType, exchange string, visible bool) FilterConfig {
	out := c.Clone()
	key := NormalizeExchange(exchange)
	if m == MarginToken {
		out.TokenExchangeVisible[key] = visible
	} else {
		out.StablecoinExchangeVisible[key] = visible
	}
	return out
}

// Normalize fills zero values left by older persisted blobs with defaults.
func (c FilterConfig) Normalize() FilterConfig {
	def := DefaultFilterConfig()
	out := c.Clone()
	if out.RateSign == "" {
		out.RateSign = def.RateSign
	}
	if out.DisplayMode == "" {
		out.DisplayMode = def.DisplayMode
	}
	if out.Status == "" {
		out.Status = def.Status
	}
	if out.SortBy == "" {
		out.SortBy = def.SortBy
	}
	if out.SortOrder == "" {
		out.SortOrder = def.SortOrder
	}
	if out.ExchangeSortBy == "" {
		out.ExchangeSortBy = def.ExchangeSortBy
	}
	if out.ExchangeSortOrder == "" {
		out.ExchangeSortOrder = def.ExchangeSortOrder
	}
	return out
}

func (c FilterConfig) Validate() error {
	if c.MinFundingRate < 0 || math.IsNaN(c.MinFundingRate) || math.IsInf(c.MinFundingRate, 0) {
		return fmt.Errorf("%w: minFundingRate must be a finite value >= 0", ErrInvalidFilter)
	}
	if c.FundingIntervalHours < 0 || math.IsNaN(c.FundingIntervalHours) || math.IsInf(c.FundingIntervalHours, 0) {
		return fmt.Errorf("%w: fundingInterval must be a finite value >= 0", ErrInvalidFilter)
	}
	switch c.RateSign {
	case RateSignAll, RateSignLong, RateSignShort:
	default:
		return fmt.Errorf("%w: unknown rateSignFilter %q", ErrInvalidFilter, c.RateSign)
	}
	switch c.DisplayMode {
	case DisplayAnyQualifies, DisplayOnlyQualified:
	default:
		return fmt.Errorf("%w: unknown displayMode %q", ErrInvalidFilter, c.DisplayMode)
	}
	switch c.Status {
	case StatusFilterAll, StatusFilterActive, StatusFilterPredicted:
	default:
		return fmt.Errorf("%w: unknown statusFilter %q", ErrInvalidFilter, c.Status)
	}
	switch c.SortBy {
	case SortByExchangeCount, SortBySymbol, SortByAverageRate, SortByBestRate:
	default:
		return fmt.Errorf("%w: unknown sortBy %q", ErrInvalidFilter, c.SortBy)
	}
	switch c.ExchangeSortBy {
	case ExchangeSortName, ExchangeSortActiveCount, ExchangeSortBestRate:
	default:
		return fmt.Errorf("%w: unknown exchangeSortBy %q", ErrInvalidFilter, c.ExchangeSortBy)
	}
	for _, o := range []SortOrder{c.SortOrder, c.ExchangeSortOrder} {
		if o != SortAsc && o != SortDesc {
			return fmt.Errorf("%w: unknown sort order %q", ErrInvalidFilter, o)
		}
	}
	return nil
}

// WithField returns a copy with one named field replaced. Values arrive
// from JSON, so numbers may be float64 or numeric strings.
func (c FilterConfig) WithField(key string, value any) (FilterConfig, error) {
	out := c.Clone()
	switch key {
	case KeyEnabled:
		b, ok := value.(bool)
		if !ok {
			return c, fmt.Errorf("%w: %s expects a bool", ErrInvalidFilter, key)
		}
		out.Enabled = b
	case KeyMinFundingRate:
		f, err := asFloat(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.MinFundingRate = f
	case KeyFundingInterval:
		if s, ok := value.(string); ok && strings.EqualFold(s, "all") {
			out.FundingIntervalHours = 0
			break
		}
		f, err := asFloat(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.FundingIntervalHours = f
	case KeyRateSign:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.RateSign = RateSign(s)
	case KeyDisplayMode:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.DisplayMode = DisplayMode(s)
	case KeyStatus:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.Status = StatusFilter(s)
	case KeySortBy:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.SortBy = SortField(s)
	case KeySortOrder:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.SortOrder = SortOrder(s)
	case KeyExchangeSortBy:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.ExchangeSortBy = ExchangeSortField(s)
	case KeyExchangeSortOrder:
		s, err := asString(value)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, key, err)
		}
		out.ExchangeSortOrder = SortOrder(s)
	default:
		return c, fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, key)
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// ResetGroup restores one group of fields to their defaults.
func (c FilterConfig) ResetGroup(group FilterGroup) (FilterConfig, error) {
	def := DefaultFilterConfig()
	out := c.Clone()
	switch group {
	case GroupRates:
		out.Enabled = def.Enabled
		out.MinFundingRate = def.MinFundingRate
		out.RateSign = def.RateSign
		out.DisplayMode = def.DisplayMode
		out.FundingIntervalHours = def.FundingIntervalHours
		out.Status = def.Status
	case GroupSort:
		out.SortBy = def.SortBy
		out.SortOrder = def.SortOrder
	case GroupExchangeSort:
		out.ExchangeSortBy = def.ExchangeSortBy
		out.ExchangeSortOrder = def.ExchangeSortOrder
	case GroupVisibility:
		out.StablecoinExchangeVisible = map[string]bool{}
		out.TokenExchangeVisible = map[string]bool{}
	default:
		return c, fmt.Errorf("%w: unknown group %q", ErrInvalidFilter, group)
	}
	return out, nil
}

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}
