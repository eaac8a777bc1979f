package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET FILTERS - Lot size, price tick, minimum notional
// ═══════════════════════════════════════════════════════════════════════════════

// Market holds per-symbol precision and trading filters loaded on connect
type Market struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	StepSize    decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// RoundQuantity rounds q down to the nearest step above MinQty.
// (q − MinQty) mod StepSize = 0 holds for the result.
func (m Market) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	if m.StepSize.IsZero() {
		return q
	}
	steps := q.Sub(m.MinQty).Div(m.StepSize).Floor()
	return m.MinQty.Add(steps.Mul(m.StepSize))
}

// RoundPrice rounds p toward zero to the nearest tick
func (m Market) RoundPrice(p decimal.Decimal) decimal.Decimal {
	if m.TickSize.IsZero() {
		return p
	}
	return p.Div(m.TickSize).Floor().Mul(m.TickSize)
}

// ValidateOrder rounds and validates an order against the market filters.
// It returns the adjusted quantity and price. Market orders skip the
// notional check since the execution price is unknown pre-trade.
func (m Market) ValidateOrder(req OrderRequest) (qty decimal.Decimal, price decimal.Decimal, err error) {
	qty = m.RoundQuantity(req.Amount)

	if qty.LessThan(m.MinQty) {
		return qty, price, NewError(KindInvalidOrder, 0,
			fmt.Sprintf("%s quantity %s below market minimum %s", m.Symbol, req.Amount, m.MinQty), nil)
	}
	if m.MaxQty.IsPositive() && qty.GreaterThan(m.MaxQty) {
		return qty, price, NewError(KindInvalidOrder, 0,
			fmt.Sprintf("%s quantity %s above market maximum %s", m.Symbol, qty, m.MaxQty), nil)
	}

	if req.Price != nil {
		price = m.RoundPrice(*req.Price)
		// bounds of 0 mean the venue reports no limit
		if m.MinPrice.IsPositive() && price.LessThan(m.MinPrice) {
			return qty, price, NewError(KindInvalidOrder, 0,
				fmt.Sprintf("%s price %s below market minimum %s", m.Symbol, price, m.MinPrice), nil)
		}
		if m.MaxPrice.IsPositive() && price.GreaterThan(m.MaxPrice) {
			return qty, price, NewError(KindInvalidOrder, 0,
				fmt.Sprintf("%s price %s above market maximum %s", m.Symbol, price, m.MaxPrice), nil)
		}

		if m.MinNotional.IsPositive() && price.Mul(qty).LessThan(m.MinNotional) {
			return qty, price, ErrInsufficientNotional
		}
	}

	return qty, price, nil
}
