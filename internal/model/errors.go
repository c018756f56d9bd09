package model

import "errors"

// Sentinel errors for the engine's failure taxonomy. The API layer maps
// these to HTTP status codes.
var (
	ErrSymbolNotFound     = errors.New("symbol_not_found")
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrInsufficientShares = errors.New("insufficient_shares")
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrPriceUnavailable   = errors.New("price_unavailable")
	ErrSettlementConflict = errors.New("settlement_conflict")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
