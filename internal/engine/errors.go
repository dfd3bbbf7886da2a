package engine

import "errors"

var (
	ErrPositionAlreadyOpen      = errors.New("position already open")
	ErrPositionNotFound         = errors.New("position not found")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInsufficientMargin       = errors.New("insufficient margin")
	ErrMarginRatioTooLow        = errors.New("margin ratio too low")
	ErrNotLiquidatable          = errors.New("position is not liquidatable")
	ErrNotEligibleToClose       = errors.New("position is not eligible to close")
	ErrCollateralTransferFailed = errors.New("collateral transfer failed")

	ErrMarketNotFound    = errors.New("market not found")
	ErrMarketExists      = errors.New("market already exists")
	ErrMarketPaused      = errors.New("market is paused")
	ErrFundingNotDue     = errors.New("funding settlement not due")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrMissingDependency = errors.New("missing engine dependency")
)
