package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
)

// quoteJSON renders one margin list entry.
func quoteJSON(exchange string, rate float64) string {
	return fmt.Sprintf(`{"exchange":%q,"funding_rate":%g,"funding_rate_interval":8,"status":1,"price":100}`, exchange, rate)
}

// tokenJSON renders a record with only a stablecoin list.
func tokenJSON(symbol string, quotes ...string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"symbol":%q,"stablecoin_margin_list":[%s]}`, symbol, strings.Join(quotes, ",")))
}

func records(raws ...json.RawMessage) []json.RawMessage {
	return raws
}
