package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vitos/funding_board/internal/domain"
	"github.com/vitos/funding_board/internal/infrastructure/storage"
)

func main() {
	dbPath := "board.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	cfg, err := store.LoadFilterConfig(ctx)
	if err != nil {
		fmt.Printf("Failed to load filter config: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		fmt.Println("⚠️ No filter config stored, the board uses defaults")
		return
	}

	normalized := cfg.Normalize()
	if err := normalized.Validate(); err != nil {
		fmt.Printf("❌ Stored filter config is invalid: %v\n", err)
	} else {
		fmt.Println("✅ Stored filter config is valid")
	}

	out, _ := json.MarshalIndent(normalized, "", "  ")
	fmt.Println(string(out))

	for _, m := range []domain.MarginType{domain.MarginStablecoin, domain.MarginToken} {
		vis := normalized.StablecoinExchangeVisible
		if m == domain.MarginToken {
			vis = normalized.TokenExchangeVisible
		}
		for ex, visible := range vis {
			if !visible {
				fmt.Printf("- Hidden on %s: %s\n", m, domain.ExchangeDisplayName(ex))
			}
		}
	}
}
