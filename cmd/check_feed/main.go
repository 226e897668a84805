package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/funding_board/internal/domain"
	"github.com/vitos/funding_board/internal/infrastructure/feed"
	"github.com/vitos/funding_board/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Feed struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"feed"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	_ = godotenv.Load()

	fmt.Printf("Testing funding feed REST endpoint...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Feed.RESTEndpoint)

	client := feed.NewRESTClient(cfg.Feed.RESTEndpoint, os.Getenv("FUNDING_FEED_API_KEY"), 0)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 2. Fetch snapshot
	records, err := client.FetchFundingRates(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to fetch funding rates: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Fetched %d records\n", len(records))

	// 3. Run the query pipeline with defaults
	reconciler := usecase.NewReconciler(zap.NewNop(), 0)
	snap, _ := reconciler.ApplySnapshot(nil, records)
	filter := domain.DefaultFilterConfig()
	filter.SortBy = domain.SortByBestRate

	for _, margin := range []domain.MarginType{domain.MarginStablecoin, domain.MarginToken} {
		view := usecase.BuildView(snap, usecase.Query{MarginType: margin, Filter: filter})
		fmt.Printf("\n[%s] %d tokens, %d exchanges\n", margin, len(view.Tokens), len(view.Exchanges))
		for i, row := range view.Tokens {
			if i >= 10 {
				break
			}
			fmt.Printf("  %-12s best=%.4f%% avg=%.4f%% exchanges=%d\n",
				row.Symbol, row.BestFR*100, row.AverageRate*100, len(row.FilteredExchanges))
		}
	}
}
