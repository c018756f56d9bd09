package risk_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/pricing"
	"github.com/stocksim/trading-engine/internal/risk"
)

func newChecker(t *testing.T) *risk.Checker {
	t.Helper()
	calc, err := pricing.NewCalculator(decimal.NewFromFloat(0.004))
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return risk.NewChecker(calc)
}

func TestCheckBuy(t *testing.T) {
	c := newChecker(t)
	limit := decimal.NewFromInt(100)

	// 10 @ 100 needs 1004 with the fee.
	if err := c.CheckBuy(decimal.NewFromInt(1004), limit, 10); err != nil {
		t.Errorf("exact cover should pass, got %v", err)
	}
	if err := c.CheckBuy(decimal.NewFromInt(1000), limit, 10); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Errorf("subtotal-only cash must fail on the fee, got %v", err)
	}
}

func TestCheckSell(t *testing.T) {
	c := newChecker(t)

	if err := c.CheckSell(10, 10); err != nil {
		t.Errorf("exact holding should pass, got %v", err)
	}
	if err := c.CheckSell(9, 10); !errors.Is(err, model.ErrInsufficientShares) {
		t.Errorf("short holding must fail, got %v", err)
	}
	if err := c.CheckSell(0, 1); !errors.Is(err, model.ErrInsufficientShares) {
		t.Errorf("no holding must fail, got %v", err)
	}
}
