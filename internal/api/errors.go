package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"frizo/margin_ledger/internal/collateral"
	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/oracle"
	"frizo/margin_ledger/internal/position"
)

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	var short *collateral.InsufficientBalanceError
	switch {
	case errors.As(err, &short):
		return http.StatusUnprocessableEntity

	case errors.Is(err, engine.ErrCollateralTransferFailed),
		errors.Is(err, engine.ErrPriceUnavailable):
		return http.StatusBadGateway

	case errors.Is(err, engine.ErrMarketNotFound),
		errors.Is(err, engine.ErrPositionNotFound),
		errors.Is(err, collateral.ErrAccountNotFound):
		return http.StatusNotFound

	case errors.Is(err, engine.ErrPositionAlreadyOpen),
		errors.Is(err, engine.ErrMarketExists),
		errors.Is(err, engine.ErrNotEligibleToClose),
		errors.Is(err, engine.ErrNotLiquidatable),
		errors.Is(err, engine.ErrMarketPaused),
		errors.Is(err, engine.ErrFundingNotDue):
		return http.StatusConflict

	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInsufficientMargin),
		errors.Is(err, engine.ErrMarginRatioTooLow),
		errors.Is(err, market.ErrPriceFluctuation),
		errors.Is(err, market.ErrInvalidMarketParameters),
		errors.Is(err, position.ErrInvalidPosition),
		errors.Is(err, collateral.ErrInvalidAmount),
		errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusUnprocessableEntity

	}
	// overflow and anything unexpected
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}
