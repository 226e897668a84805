package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/funding_board/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	cfg, err := newTestStore(t).LoadFilterConfig(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := domain.DefaultFilterConfig()
	cfg.Enabled = true
	cfg.MinFundingRate = 0.0025
	cfg.DisplayMode = domain.DisplayOnlyQualified
	cfg = cfg.WithVisibility(domain.MarginStablecoin, "binance", false)
	require.NoError(t, store.SaveFilterConfig(ctx, cfg))

	cfg.SortBy = domain.SortBySymbol
	require.NoError(t, store.SaveFilterConfig(ctx, cfg), "second save overwrites")

	got, err := store.LoadFilterConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg, *got)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	cfg := domain.DefaultFilterConfig()
	cfg.FundingIntervalHours = 8
	require.NoError(t, store.SaveFilterConfig(ctx, cfg))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.LoadFilterConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 8.0, got.FundingIntervalHours)
}
