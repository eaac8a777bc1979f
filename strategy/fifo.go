package strategy

import "github.com/shopspring/decimal"

// ═══════════════════════════════════════════════════════════════════════════════
// FIFO INVENTORY - Earliest-lot-first matching
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every buy fill pushes a lot; every sell fill consumes lots from the
// front. A sell larger than the head lot spills into the next; a sell
// smaller than the head lot leaves the remainder at the head. Realized
// P&L therefore always pairs a sell with the oldest open inventory.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Lot is one unit of open inventory from a buy fill. Accrued carries
// realized profit from partial sells so the final close reports the
// whole lot's P&L, not just the last slice's.
type Lot struct {
	CycleID    uint            `json:"cycle_id"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Accrued    decimal.Decimal `json:"accrued"`
	AccruedFee decimal.Decimal `json:"accrued_fee"`
}

// MatchPart is one lot's share of a sell fill
type MatchPart struct {
	Lot      Lot
	Consumed decimal.Decimal
	Closed   bool // lot fully consumed
}

// FIFO is an ordered lot queue. Not safe for concurrent use; the owning
// strategy serializes access.
type FIFO struct {
	lots []Lot
}

// NewFIFO builds a queue, optionally pre-seeded (restore path)
func NewFIFO(lots ...Lot) *FIFO {
	f := &FIFO{}
	f.lots = append(f.lots, lots...)
	return f
}

// Push appends a lot at the back
func (f *FIFO) Push(l Lot) {
	f.lots = append(f.lots, l)
}

// Match consumes up to amount from the front of the queue and reports
// which lots were touched. If the queue holds less than amount, the
// excess is silently unmatched; the caller decides what that means.
func (f *FIFO) Match(amount decimal.Decimal) []MatchPart {
	var parts []MatchPart
	for amount.IsPositive() && len(f.lots) > 0 {
		head := &f.lots[0]
		if head.Amount.GreaterThan(amount) {
			parts = append(parts, MatchPart{Lot: *head, Consumed: amount})
			head.Amount = head.Amount.Sub(amount)
			return parts
		}
		parts = append(parts, MatchPart{Lot: *head, Consumed: head.Amount, Closed: true})
		amount = amount.Sub(head.Amount)
		f.lots = f.lots[1:]
	}
	return parts
}

// AccrueHead adds realized profit and fee to the head lot after a
// partial consumption
func (f *FIFO) AccrueHead(profit, fee decimal.Decimal) {
	if len(f.lots) == 0 {
		return
	}
	f.lots[0].Accrued = f.lots[0].Accrued.Add(profit)
	f.lots[0].AccruedFee = f.lots[0].AccruedFee.Add(fee)
}

// RemoveCycle extracts the lot for one cycle regardless of its queue
// position; a forced exit does not respect FIFO order
func (f *FIFO) RemoveCycle(cycleID uint) (Lot, bool) {
	for i, l := range f.lots {
		if l.CycleID == cycleID {
			f.lots = append(f.lots[:i], f.lots[i+1:]...)
			return l, true
		}
	}
	return Lot{}, false
}

// Len is the number of open lots
func (f *FIFO) Len() int { return len(f.lots) }

// Lots returns a copy of the queue front-to-back
func (f *FIFO) Lots() []Lot {
	out := make([]Lot, len(f.lots))
	copy(out, f.lots)
	return out
}

// TotalAmount is the summed open inventory
func (f *FIFO) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range f.lots {
		total = total.Add(l.Amount)
	}
	return total
}
