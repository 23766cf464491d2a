// Package execution provides order placement backends. The paper
// client fills orders against an internal balance sheet; the live
// client lives in the exchange infra package.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/pkg/id"
)

// PaperClient simulates an exchange for dry-run trading. Fills are
// immediate and complete at the requested price, minus the configured
// fee. It is safe for concurrent use.
type PaperClient struct {
	mu       sync.Mutex
	feeRate  decimal.Decimal
	balances map[string]decimal.Decimal // currency -> amount
	fills    []domain.OrderResult

	failNext error // injected failure for the next order
}

// NewPaperClient creates a paper exchange with the given fee rate.
func NewPaperClient(feeRate decimal.Decimal) *PaperClient {
	if feeRate.IsNegative() {
		panic("execution: fee rate must not be negative")
	}
	return &PaperClient{
		feeRate:  feeRate,
		balances: make(map[string]decimal.Decimal),
	}
}

// Deposit credits the given currency balance.
func (p *PaperClient) Deposit(currency string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = p.balances[currency].Add(amount)
}

// Balance returns the current balance of a currency.
func (p *PaperClient) Balance(currency string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[currency]
}

// Fills returns a copy of all executed fills in order.
func (p *PaperClient) Fills() []domain.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderResult, len(p.fills))
	copy(out, p.fills)
	return out
}

// FailNext makes the next PlaceOrder call return err instead of
// filling. Used to exercise discrepancy handling.
func (p *PaperClient) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// PlaceOrder implements domain.OrderClient. A BUY spends the quote
// currency for the base currency; a SELL does the reverse. The order
// is rejected when the spending balance cannot cover quantity, price
// and fee.
func (p *PaperClient) PlaceOrder(ctx context.Context, symbol, side string, qty, price decimal.Decimal) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return domain.OrderResult{}, fmt.Errorf("paper: invalid order qty=%s price=%s", qty, price)
	}
	base, quote, err := splitSymbol(symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return domain.OrderResult{}, err
	}

	value := qty.Mul(price)
	fee := value.Mul(p.feeRate)

	switch side {
	case domain.SideBuy:
		cost := value.Add(fee)
		if p.balances[quote].LessThan(cost) {
			return domain.OrderResult{}, fmt.Errorf("paper: insufficient %s balance: have %s, need %s",
				quote, p.balances[quote], cost)
		}
		p.balances[quote] = p.balances[quote].Sub(cost)
		p.balances[base] = p.balances[base].Add(qty)
	case domain.SideSell:
		if p.balances[base].LessThan(qty) {
			return domain.OrderResult{}, fmt.Errorf("paper: insufficient %s balance: have %s, need %s",
				base, p.balances[base], qty)
		}
		p.balances[base] = p.balances[base].Sub(qty)
		p.balances[quote] = p.balances[quote].Add(value.Sub(fee))
	default:
		return domain.OrderResult{}, fmt.Errorf("paper: unknown side %q", side)
	}

	res := domain.OrderResult{
		OrderID:     id.New(),
		FilledQty:   qty,
		FilledPrice: price,
	}
	p.fills = append(p.fills, res)

	slog.Debug("paper fill",
		slog.String("symbol", symbol),
		slog.String("side", side),
		slog.String("qty", qty.String()),
		slog.String("price", price.String()))
	return res, nil
}

// splitSymbol parses "BTC-USDT" into base and quote currencies.
func splitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("paper: malformed symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}
