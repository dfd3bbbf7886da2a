package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frizo/margin_ledger/internal/collateral"
	"frizo/margin_ledger/internal/config"
	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/oracle"
	"frizo/margin_ledger/internal/store"
)

func newLedger(t *testing.T, book *oracle.Book) *engine.Ledger {
	t.Helper()
	ledger, err := engine.NewLedger(engine.Dependencies{
		Marks:      book,
		Funding:    book,
		Collateral: collateral.NewVault(),
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)
	return ledger
}

func TestLoadMarkets(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Markets = []config.MarketConfig{{
		ID:                 "BTC-PERP",
		Symbol:             "BTCUSD",
		InitialMarginRatio: "0.1",
		MaintenanceRatio:   "0.05",
		FundingPeriod:      time.Hour,
		Decimals:           18,
		MarkPrice:          "30000",
	}}
	st := store.NewMemoryStore()

	// first boot creates the market
	book := oracle.NewBook()
	ledger := newLedger(t, book)
	require.NoError(t, loadMarkets(ctx, cfg, ledger, book, st, logger.Discard()))
	eng, err := ledger.Market("BTC-PERP")
	require.NoError(t, err)
	eng.Pause()

	q, ok := book.Quote("BTC-PERP")
	require.True(t, ok)
	assert.Equal(t, "30000", q.MarkPrice.String())

	require.NoError(t, st.Save(ctx, eng.Snapshot()))

	// second boot restores it instead of creating a fresh one
	book = oracle.NewBook()
	ledger = newLedger(t, book)
	require.NoError(t, loadMarkets(ctx, cfg, ledger, book, st, logger.Discard()))
	eng, err = ledger.Market("BTC-PERP")
	require.NoError(t, err)
	assert.True(t, eng.Paused())
	assert.Len(t, ledger.Markets(), 1)
}

func TestOpenStoreWithoutDatabase(t *testing.T) {
	cfg := config.Default()
	st, cleanup, err := openStore(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &store.MemoryStore{}, st)
}
