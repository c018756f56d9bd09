// Package pricing implements the money math for trade settlement: fee
// computation, weighted-average cost basis, and position valuation.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The calculator is stateless — balances and quantities are passed as
// arguments, not stored.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidFeeRate is returned when the fee rate is negative or >= 1.
	ErrInvalidFeeRate = errors.New("pricing: fee rate must be in [0, 1)")

	// CostScale is the number of decimal places for cost-basis rounding.
	CostScale int32 = 8
)

// Calculator computes trade costs and proceeds under a proportional fee.
type Calculator struct {
	feeRate decimal.Decimal
}

// NewCalculator creates a calculator with the given fee rate
// (e.g. 0.004 for 0.4%).
func NewCalculator(feeRate decimal.Decimal) (*Calculator, error) {
	one := decimal.NewFromInt(1)
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) {
		return nil, ErrInvalidFeeRate
	}
	return &Calculator{feeRate: feeRate}, nil
}

// FeeRate returns the configured fee rate.
func (c *Calculator) FeeRate() decimal.Decimal {
	return c.feeRate
}

// BuyCost returns (subtotal, fee, totalCost) for buying qty shares at price.
// totalCost = price*qty + fee is debited from the buyer's cash.
func (c *Calculator) BuyCost(price decimal.Decimal, qty int64) (subtotal, fee, total decimal.Decimal) {
	subtotal = price.Mul(decimal.NewFromInt(qty))
	fee = subtotal.Mul(c.feeRate)
	total = subtotal.Add(fee)
	return subtotal, fee, total
}

// SellProceeds returns (subtotal, fee, totalReceived) for selling qty shares
// at price. totalReceived = price*qty − fee is credited to the seller's cash.
func (c *Calculator) SellProceeds(price decimal.Decimal, qty int64) (subtotal, fee, total decimal.Decimal) {
	subtotal = price.Mul(decimal.NewFromInt(qty))
	fee = subtotal.Mul(c.feeRate)
	total = subtotal.Sub(fee)
	return subtotal, fee, total
}

// MaxBuyCost returns the cash required to cover a buy of qty shares at
// limitPrice including the fee. Used for the advisory solvency check at
// limit-order placement.
func (c *Calculator) MaxBuyCost(limitPrice decimal.Decimal, qty int64) decimal.Decimal {
	_, _, total := c.BuyCost(limitPrice, qty)
	return total
}

// WeightedAvgCost returns the new per-share cost basis after buying addQty
// more shares for subtotal, on top of oldQty shares at oldAvg:
//
//	(oldAvg*oldQty + subtotal) / (oldQty + addQty)
//
// The subtotal excludes the fee. The fee is a cost of trading, not of the
// shares, and is recovered only through Transaction history.
func WeightedAvgCost(oldAvg decimal.Decimal, oldQty int64, subtotal decimal.Decimal, addQty int64) decimal.Decimal {
	newQty := oldQty + addQty
	held := oldAvg.Mul(decimal.NewFromInt(oldQty))
	return held.Add(subtotal).DivRound(decimal.NewFromInt(newQty), CostScale)
}

// Valuation holds the mark-to-market view of a single position.
type Valuation struct {
	InvestedValue decimal.Decimal
	CurrentValue  decimal.Decimal
	GainLoss      decimal.Decimal
}

// Value marks a position to the current price.
func Value(qty int64, avgBuyPrice, currentPrice decimal.Decimal) Valuation {
	q := decimal.NewFromInt(qty)
	invested := avgBuyPrice.Mul(q)
	current := currentPrice.Mul(q)
	return Valuation{
		InvestedValue: invested,
		CurrentValue:  current,
		GainLoss:      current.Sub(invested),
	}
}
