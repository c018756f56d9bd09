// Package risk implements the advisory pre-trade checks performed at
// limit-order placement.
//
// The checks are advisory only: nothing is reserved. A buy order is
// accepted when the user's cash covers the worst case (limit price plus
// fee); a sell order when the user currently holds enough shares. The
// same user can still over-commit across several simultaneous pending
// orders; the settlement path re-validates and is the actual gate.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/pricing"
)

// Checker validates placement requests against current balances.
// It is stateless — balances and holdings are passed as arguments.
type Checker struct {
	calc *pricing.Calculator
}

// NewChecker creates a checker using the given fee calculator.
func NewChecker(calc *pricing.Calculator) *Checker {
	return &Checker{calc: calc}
}

// CheckBuy verifies cash ≥ limitPrice×qty×(1+feeRate).
func (c *Checker) CheckBuy(cash, limitPrice decimal.Decimal, qty int64) error {
	if cash.LessThan(c.calc.MaxBuyCost(limitPrice, qty)) {
		return model.ErrInsufficientFunds
	}
	return nil
}

// CheckSell verifies the held quantity covers the order quantity.
func (c *Checker) CheckSell(held, qty int64) error {
	if held < qty {
		return model.ErrInsufficientShares
	}
	return nil
}
