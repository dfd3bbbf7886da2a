package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frizo/margin_ledger/internal/api"
	"frizo/margin_ledger/internal/collateral"
	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/oracle"
)

type testEnv struct {
	router chi.Router
	book   *oracle.Book
	vault  *collateral.Vault
	hub    *api.Hub
}

// newTestEnv wires a ledger over in-memory adapters with one market, BTC-PERP at mark 10.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		book:  oracle.NewBook(),
		vault: collateral.NewVault(),
		hub:   api.NewHub(logger.Discard()),
	}
	go env.hub.Run()
	t.Cleanup(env.hub.Close)

	ledger, err := engine.NewLedger(engine.Dependencies{
		Marks:      env.book,
		Funding:    env.book,
		Collateral: env.vault,
		Events:     env.hub,
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)
	env.router = api.NewServer(ledger, env.book, env.vault, env.hub, logger.Discard()).Routes()

	w := env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		ID:                 "BTC-PERP",
		Symbol:             "BTCUSD",
		InitialMarginRatio: "0.1",
		MaintenanceRatio:   "0.05",
		LiquidationFee:     "0.01",
		FundingPeriod:      "1h",
		Decimals:           18,
		MarkPrice:          "10",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) credit(t *testing.T, trader, amount string) {
	t.Helper()
	_, err := env.vault.Credit(trader, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

func (env *testEnv) open(t *testing.T, trader, side, size, margin string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions", api.OpenRequest{
		Trader: trader, Side: side, Size: size, Margin: margin, Leverage: "10",
	})
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, w)["error"]
}

// --- Market tests ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["markets"])
}

func TestMarkets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/markets/BTC-PERP", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decodeBody[api.MarketResponse](t, w)
	assert.Equal(t, "BTCUSD", m.Symbol)
	assert.Equal(t, "0.05", m.Params.MaintenanceRatio)
	assert.Equal(t, "1h0m0s", m.Params.FundingPeriod)
	assert.Equal(t, "1m0s", m.Params.FluctuationWindow)
	assert.Equal(t, "0", m.Aggregates.OpenInterestNotional)
	assert.False(t, m.Paused)

	w = env.do(t, "GET", "/api/v1/markets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]api.MarketResponse](t, w), 1)

	w = env.do(t, "GET", "/api/v1/markets/ETH-PERP", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		ID: "BTC-PERP", InitialMarginRatio: "0.1", MaintenanceRatio: "0.05", FundingPeriod: "1h", Decimals: 18,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// maintenance above initial
	w = env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		ID: "ETH-PERP", InitialMarginRatio: "0.05", MaintenanceRatio: "0.1", FundingPeriod: "1h", Decimals: 18,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		ID: "ETH-PERP", InitialMarginRatio: "ten", Decimals: 18,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		ID: "ETH-PERP", InitialMarginRatio: "0.1", MaintenanceRatio: "0.05", FundingPeriod: "1h",
		FluctuationWindow: "soon", Decimals: 18,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorOf(t, w), "fluctuation_window")

	req := httptest.NewRequest("POST", "/api/v1/markets", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetPrice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "PUT", "/api/v1/markets/BTC-PERP/price", api.PriceRequest{MarkPrice: "12.5", PremiumFraction: "-0.25"})
	require.Equal(t, http.StatusOK, w.Code)
	q := decodeBody[oracle.Quote](t, w)
	assert.Equal(t, "12.5", q.MarkPrice.String())
	assert.Equal(t, "-0.25", q.PremiumFraction.String())

	w = env.do(t, "PUT", "/api/v1/markets/BTC-PERP/price", api.PriceRequest{MarkPrice: "0"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, "PUT", "/api/v1/markets/BTC-PERP/price", api.PriceRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Position tests ---

func TestPositionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "T1", "5000")

	w := env.open(t, "T1", "long", "100", "1000")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeBody[api.ResultResponse](t, w)
	require.NotNil(t, res.Position)
	assert.Equal(t, "long", res.Position.Side)
	assert.Equal(t, "1000", res.Position.Notional)
	assert.NotEmpty(t, res.EventID)

	w = env.open(t, "T1", "long", "100", "1000")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", "/api/v1/markets/BTC-PERP/positions/T1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000", decodeBody[api.PositionResponse](t, w).Margin)

	w = env.do(t, "GET", "/api/v1/markets/BTC-PERP/positions/T1/risk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rr := decodeBody[api.RiskResponse](t, w)
	assert.Equal(t, "1", rr.MarginRatio)
	assert.False(t, rr.Liquidatable)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions/T1/deposit", api.AmountRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1100", decodeBody[api.ResultResponse](t, w).Position.Margin)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions/T1/withdraw", api.AmountRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1000", decodeBody[api.ResultResponse](t, w).Position.Margin)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions/T1/withdraw", api.AmountRequest{Amount: "950"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, "GET", "/api/v1/markets/BTC-PERP/positions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]api.PositionResponse](t, w), 1)
	w = env.do(t, "GET", "/api/v1/markets/BTC-PERP/positions?status=liquidating", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]api.PositionResponse](t, w))

	w = env.do(t, "DELETE", "/api/v1/markets/BTC-PERP/positions/T1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	closed := decodeBody[api.ResultResponse](t, w)
	assert.True(t, closed.Removed)
	assert.Nil(t, closed.Position)
	assert.Equal(t, "1000", closed.Payout)

	w = env.do(t, "GET", "/api/v1/collateral/T1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acc := decodeBody[collateral.Account](t, w)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(5000)), acc.Balance.String())

	w = env.do(t, "GET", "/api/v1/markets/BTC-PERP/positions/T1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpenValidation(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "T1", "500")

	tests := []struct {
		name   string
		req    api.OpenRequest
		status int
	}{
		{"missing trader", api.OpenRequest{Side: "long", Size: "1", Margin: "1", Leverage: "10"}, http.StatusBadRequest},
		{"bad side", api.OpenRequest{Trader: "T1", Side: "up", Size: "1", Margin: "1", Leverage: "10"}, http.StatusBadRequest},
		{"bad size", api.OpenRequest{Trader: "T1", Side: "long", Size: "x", Margin: "1", Leverage: "10"}, http.StatusBadRequest},
		{"zero size", api.OpenRequest{Trader: "T1", Side: "long", Size: "0", Margin: "1", Leverage: "10"}, http.StatusUnprocessableEntity},
		{"leverage above limit", api.OpenRequest{Trader: "T1", Side: "long", Size: "10", Margin: "10", Leverage: "20"}, http.StatusUnprocessableEntity},
		{"margin below notional/leverage", api.OpenRequest{Trader: "T1", Side: "long", Size: "100", Margin: "50", Leverage: "10"}, http.StatusUnprocessableEntity},
		{"insufficient collateral", api.OpenRequest{Trader: "T1", Side: "long", Size: "100", Margin: "1000", Leverage: "10"}, http.StatusUnprocessableEntity},
		{"unknown trader", api.OpenRequest{Trader: "T9", Side: "short", Size: "100", Margin: "1000", Leverage: "10"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions", tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, errorOf(t, w))
		})
	}
}

func TestPausedMarket(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "T1", "5000")

	w := env.do(t, "POST", "/api/v1/markets/BTC-PERP/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.open(t, "T1", "long", "100", "1000")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.open(t, "T1", "long", "100", "1000")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestLiquidation(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "T1", "5000")
	env.credit(t, "T2", "5000")
	require.Equal(t, http.StatusCreated, env.open(t, "T1", "short", "100", "1000").Code)
	require.Equal(t, http.StatusCreated, env.open(t, "T2", "long", "100", "100").Code)

	w := env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions/T2/liquidate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "PUT", "/api/v1/markets/BTC-PERP/price", api.PriceRequest{MarkPrice: "9.4"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/v1/markets/BTC-PERP/liquidatable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"T2"}, decodeBody[map[string]any](t, w)["traders"])

	// must be liquidated, not closed
	w = env.do(t, "DELETE", "/api/v1/markets/BTC-PERP/positions/T2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions/T2/liquidate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[api.ResultResponse](t, w)
	assert.True(t, res.Removed)
	assert.Equal(t, "9.4", res.Fee)
	assert.Equal(t, "-60", res.RealizedPnL)
	assert.Equal(t, "0", res.BadDebt)
}

func TestFundingEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "L1", "5000")
	env.credit(t, "S1", "5000")
	require.Equal(t, http.StatusCreated, env.open(t, "L1", "long", "100", "1000").Code)
	require.Equal(t, http.StatusCreated, env.open(t, "S1", "short", "100", "1000").Code)

	w := env.do(t, "POST", "/api/v1/markets/BTC-PERP/positions/L1/funding", api.FundingRequest{PremiumFraction: "0.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[api.ResultResponse](t, w)
	assert.Equal(t, "50", res.Amount)
	assert.Equal(t, "950", res.Position.Margin)

	w = env.do(t, "PUT", "/api/v1/markets/BTC-PERP/price", api.PriceRequest{PremiumFraction: "0.5"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/funding", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sum := decodeBody[api.FundingResponse](t, w)
	assert.Equal(t, 2, sum.Positions)
	assert.Equal(t, "0", sum.Paid) // L1 already settled at 0.5
	assert.Equal(t, "50", sum.Received)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/funding", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/v1/markets/BTC-PERP/bad-debt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", decodeBody[map[string]string](t, w)["covered"])
}

func TestCollateralEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/collateral/T1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "POST", "/api/v1/collateral/T1/credit", api.AmountRequest{Amount: "250.5"})
	require.Equal(t, http.StatusOK, w.Code)
	acc := decodeBody[collateral.Account](t, w)
	assert.Equal(t, "250.5", acc.Balance.String())

	w = env.do(t, "POST", "/api/v1/collateral/T1/credit", api.AmountRequest{Amount: "-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, "POST", "/api/v1/collateral/T1/credit", api.AmountRequest{Amount: "lots"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- WebSocket ---

func TestWebSocketEvents(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, "T1", "5000")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusCreated, env.open(t, "T1", "long", "100", "1000").Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev engine.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, engine.EventPositionOpened, ev.Type)
	assert.Equal(t, "BTC-PERP", ev.MarketID)
	assert.Equal(t, "T1", ev.Trader)
	assert.Equal(t, "1000", ev.Margin)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := api.NewHub(logger.Discard()) // Run not started: nothing drains the buffer

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(engine.Event{ID: "evt", Type: engine.EventMarginDeposited})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
	assert.Zero(t, hub.Clients())
}

func TestHubCloseTwice(t *testing.T) {
	hub := api.NewHub(logger.Discard())
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Close()
		}()
	}
	wg.Wait()
	assert.NotPanics(t, hub.Close)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t)

	body := `{"trader":"` + strings.Repeat("a", 2<<20) + `"}`
	req := httptest.NewRequest("POST", "/api/v1/markets/BTC-PERP/positions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, errorOf(t, w), "too large")

	// a small body on the same route still reaches validation
	w = env.open(t, "alice", "long", "1", "1")
	assert.NotEqual(t, http.StatusRequestEntityTooLarge, w.Code)
}
