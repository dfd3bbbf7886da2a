package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"frizo/margin_ledger/internal/config"
	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/position"
	"frizo/margin_ledger/pkg/utils"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

var (
	errBadRequest   = errors.New("bad request")
	errBodyTooLarge = errors.New("request body too large")
)

// decode reads an optional JSON body of at most maxBodyBytes. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return fmt.Errorf("limit %d bytes: %w", tooLarge.Limit, errBodyTooLarge)
	default:
		return fmt.Errorf("invalid request body: %w", errBadRequest)
	}
}

func parseAmount(prec fixedpoint.Precision, name, s string) (fixedpoint.Value, error) {
	if s == "" {
		return fixedpoint.Value{}, fmt.Errorf("%s is required: %w", name, errBadRequest)
	}
	v, err := prec.Parse(s)
	if err != nil {
		return fixedpoint.Value{}, fmt.Errorf("%s: %v: %w", name, err, errBadRequest)
	}
	return v, nil
}

// fail writes a request error with its own status and hands ledger errors to writeFailure.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeError(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, errBadRequest):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeFailure(w, err)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	eng, err := s.ledger.Market(chi.URLParam(r, "marketID"))
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return eng, true
}

// =====================================================
// Markets
// =====================================================

// ListMarkets handles GET /api/v1/markets
func (s *Server) ListMarkets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, utils.Map(s.ledger.Markets(), newMarketResponse))
}

// CreateMarket handles POST /api/v1/markets
func (s *Server) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}

	mc := config.MarketConfig{
		ID:                      req.ID,
		Symbol:                  req.Symbol,
		InitialMarginRatio:      req.InitialMarginRatio,
		MaintenanceRatio:        req.MaintenanceRatio,
		LiquidationFee:          req.LiquidationFee,
		PartialLiquidationRatio: req.PartialLiquidationRatio,
		PartialLiquidationFloor: req.PartialLiquidationFloor,
		FluctuationLimitRatio:   req.FluctuationLimitRatio,
		Decimals:                req.Decimals,
	}
	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"funding_period", req.FundingPeriod, &mc.FundingPeriod},
		{"fluctuation_window", req.FluctuationWindow, &mc.FluctuationWindow},
	}
	for _, f := range durations {
		if f.in == "" {
			continue
		}
		d, err := time.ParseDuration(f.in)
		if err != nil {
			writeError(w, f.name+": "+err.Error(), http.StatusBadRequest)
			return
		}
		*f.out = d
	}
	params, err := mc.Params()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var mark decimal.Decimal
	if req.MarkPrice != "" {
		if mark, err = decimal.NewFromString(req.MarkPrice); err != nil {
			writeError(w, "mark_price: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	eng, err := s.ledger.CreateMarket(req.ID, req.Symbol, params)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if req.MarkPrice != "" {
		if err := s.book.SetMarkPrice(eng.ID(), mark); err != nil {
			s.log.Warn("market created without mark price", "market", eng.ID(), "error", err)
		}
	}

	s.log.Info("market created", "market", eng.ID(), "symbol", eng.Symbol())
	writeJSON(w, http.StatusCreated, newMarketResponse(eng))
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Server) GetMarket(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(eng))
}

// SetPrice handles PUT /api/v1/markets/{marketID}/price
func (s *Server) SetPrice(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req PriceRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.MarkPrice == "" && req.PremiumFraction == "" {
		writeError(w, "mark_price or premium_fraction is required", http.StatusBadRequest)
		return
	}

	var mark, premium decimal.Decimal
	var err error
	if req.MarkPrice != "" {
		if mark, err = decimal.NewFromString(req.MarkPrice); err != nil {
			writeError(w, "mark_price: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.PremiumFraction != "" {
		if premium, err = decimal.NewFromString(req.PremiumFraction); err != nil {
			writeError(w, "premium_fraction: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	if req.MarkPrice != "" {
		if err := s.book.SetMarkPrice(eng.ID(), mark); err != nil {
			writeFailure(w, err)
			return
		}
	}
	if req.PremiumFraction != "" {
		s.book.SetPremiumFraction(eng.ID(), premium)
	}

	q, _ := s.book.Quote(eng.ID())
	writeJSON(w, http.StatusOK, q)
}

// PauseMarket handles POST /api/v1/markets/{marketID}/pause
func (s *Server) PauseMarket(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eng.Pause(), "paused": true})
}

// ResumeMarket handles POST /api/v1/markets/{marketID}/resume
func (s *Server) ResumeMarket(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eng.Unpause(), "paused": false})
}

// SettleFunding handles POST /api/v1/markets/{marketID}/funding
func (s *Server) SettleFunding(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sum, err := eng.SettleFunding(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFundingResponse(eng.Precision(), sum))
}

// SettleBadDebt handles POST /api/v1/markets/{marketID}/bad-debt
func (s *Server) SettleBadDebt(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	covered, err := eng.SettleBadDebt(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	agg := eng.Aggregates()
	prec := eng.Precision()
	writeJSON(w, http.StatusOK, map[string]string{
		"covered":          prec.Format(covered),
		"prepaid_bad_debt": prec.Format(agg.PrepaidBadDebt),
		"insurance_fund":   prec.Format(agg.InsuranceFund),
	})
}

// ListLiquidatable handles GET /api/v1/markets/{marketID}/liquidatable
func (s *Server) ListLiquidatable(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	traders, err := eng.Liquidatable(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if traders == nil {
		traders = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traders": traders})
}

// =====================================================
// Positions
// =====================================================

// ListPositions handles GET /api/v1/markets/{marketID}/positions?status=normal|liquidating
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	positions := eng.Positions()
	if status := r.URL.Query().Get("status"); status != "" {
		positions = utils.Filter(positions, func(p position.Position) bool {
			return p.Status.String() == status
		})
	}
	prec := eng.Precision()
	resp := utils.Map(positions, func(p position.Position) PositionResponse {
		return newPositionResponse(prec, p)
	})
	writeJSON(w, http.StatusOK, resp)
}

// OpenPosition handles POST /api/v1/markets/{marketID}/positions
func (s *Server) OpenPosition(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	side, ok := position.ParseSide(req.Side)
	if !ok {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}

	prec := eng.Precision()
	open := engine.OpenRequest{Trader: req.Trader, Side: side}
	var err error
	if open.Size, err = parseAmount(prec, "size", req.Size); err != nil {
		fail(w, err)
		return
	}
	if open.Margin, err = parseAmount(prec, "margin", req.Margin); err != nil {
		fail(w, err)
		return
	}
	if open.Leverage, err = parseAmount(prec, "leverage", req.Leverage); err != nil {
		fail(w, err)
		return
	}

	res, err := eng.OpenPosition(r.Context(), open)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newResultResponse(prec, res))
}

// GetPosition handles GET /api/v1/markets/{marketID}/positions/{trader}
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	p, err := eng.Position(chi.URLParam(r, "trader"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(eng.Precision(), p))
}

// GetRisk handles GET /api/v1/markets/{marketID}/positions/{trader}/risk
func (s *Server) GetRisk(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	trader := chi.URLParam(r, "trader")
	a, err := eng.Assess(r.Context(), trader)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRiskResponse(eng.Precision(), trader, a))
}

// ClosePosition handles DELETE /api/v1/markets/{marketID}/positions/{trader}
func (s *Server) ClosePosition(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, eng *engine.Engine, trader string) (engine.Result, error) {
		return eng.ClosePosition(ctx, trader)
	})
}

// LiquidatePosition handles POST /api/v1/markets/{marketID}/positions/{trader}/liquidate
func (s *Server) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, eng *engine.Engine, trader string) (engine.Result, error) {
		return eng.LiquidatePosition(ctx, trader)
	})
}

// DepositMargin handles POST /api/v1/markets/{marketID}/positions/{trader}/deposit
func (s *Server) DepositMargin(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	s.mutate(w, r, func(ctx context.Context, eng *engine.Engine, trader string) (engine.Result, error) {
		amount, err := parseAmount(eng.Precision(), "amount", req.Amount)
		if err != nil {
			return engine.Result{}, err
		}
		return eng.DepositMargin(ctx, trader, amount)
	})
}

// WithdrawMargin handles POST /api/v1/markets/{marketID}/positions/{trader}/withdraw
func (s *Server) WithdrawMargin(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	s.mutate(w, r, func(ctx context.Context, eng *engine.Engine, trader string) (engine.Result, error) {
		amount, err := parseAmount(eng.Precision(), "amount", req.Amount)
		if err != nil {
			return engine.Result{}, err
		}
		return eng.WithdrawMargin(ctx, trader, amount)
	})
}

// PayFunding handles POST /api/v1/markets/{marketID}/positions/{trader}/funding
func (s *Server) PayFunding(w http.ResponseWriter, r *http.Request) {
	var req FundingRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	s.mutate(w, r, func(ctx context.Context, eng *engine.Engine, trader string) (engine.Result, error) {
		prec := eng.Precision()
		if req.PremiumFraction != "" {
			premium, err := parseAmount(prec, "premium_fraction", req.PremiumFraction)
			if err != nil {
				return engine.Result{}, err
			}
			return eng.PayFunding(ctx, trader, premium)
		}
		d, err := s.book.PremiumFraction(ctx, eng.ID())
		if err != nil {
			return engine.Result{}, err
		}
		premium, err := prec.FromDecimal(d)
		if err != nil {
			return engine.Result{}, err
		}
		return eng.PayFunding(ctx, trader, premium)
	})
}

// mutate runs one position operation and writes its result.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, *engine.Engine, string) (engine.Result, error)) {
	eng, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, err := op(r.Context(), eng, chi.URLParam(r, "trader"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(eng.Precision(), res))
}

// =====================================================
// Collateral
// =====================================================

// GetCollateral handles GET /api/v1/collateral/{trader}
func (s *Server) GetCollateral(w http.ResponseWriter, r *http.Request) {
	acc, err := s.vault.Account(chi.URLParam(r, "trader"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// CreditCollateral handles POST /api/v1/collateral/{trader}/credit
func (s *Server) CreditCollateral(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, "amount: invalid decimal", http.StatusBadRequest)
		return
	}
	acc, err := s.vault.Credit(chi.URLParam(r, "trader"), amount)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
