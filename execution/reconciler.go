package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STARTUP RECONCILER - Converge local state with the venue after a restart
// ═══════════════════════════════════════════════════════════════════════════════
//
// The bot can die between placing an order and hearing about its fill.
// On startup the reconciler walks every locally-open order, asks the
// venue for the authoritative state, and resolves disagreements per the
// configured policy. Running it twice in a row is a no-op the second
// time.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Policy picks who wins a local/venue disagreement
type Policy string

const (
	// PolicyTrustExchange adopts the venue state and replays missed fills
	PolicyTrustExchange Policy = "trust_exchange"
	// PolicyTrustLocal cancels venue orders the local state does not expect
	PolicyTrustLocal Policy = "trust_local"
	// PolicyManual reports conflicts and changes nothing
	PolicyManual Policy = "manual"
)

// ParsePolicy validates a policy string, defaulting to trust_exchange
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyTrustExchange, PolicyTrustLocal, PolicyManual:
		return Policy(s), nil
	case "":
		return PolicyTrustExchange, nil
	default:
		return "", fmt.Errorf("unknown reconcile policy %q", s)
	}
}

// Report summarizes one reconciliation pass
type Report struct {
	Checked       int      `json:"checked"`
	Updated       int      `json:"updated"`
	FillsReplayed int      `json:"fills_replayed"`
	Adopted       int      `json:"adopted"`
	Cancelled     int      `json:"cancelled"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

// Reconciler converges the order store with the venue
type Reconciler struct {
	ex      exchange.Exchange
	store   *storage.Store
	handler FillHandler
	policy  Policy
}

// NewReconciler wires a reconciler; handler receives replayed fills
func NewReconciler(ex exchange.Exchange, store *storage.Store, handler FillHandler, policy Policy) *Reconciler {
	return &Reconciler{ex: ex, store: store, handler: handler, policy: policy}
}

// Reconcile runs one full pass over the given symbols
func (r *Reconciler) Reconcile(ctx context.Context, symbols []string) (Report, error) {
	var report Report

	local, err := r.store.OpenOrders(ctx, "")
	if err != nil {
		return report, fmt.Errorf("load open orders: %w", err)
	}

	// resolve every locally-open order against the venue
	for _, rec := range local {
		report.Checked++
		venue, err := r.ex.FetchOrder(ctx, rec.OrderID, rec.Symbol)
		if err != nil {
			if exchange.KindOf(err) == exchange.KindOrderNotFound {
				// never reached the venue or already purged: close it out locally
				if err := r.store.UpdateOrderStatus(ctx, rec.OrderID, types.OrderStatusCanceled, rec.Filled); err != nil {
					return report, err
				}
				report.Updated++
				log.Warn().Str("order_id", rec.OrderID).Msg("⚠️ Stale local order not on venue, marked cancelled")
				continue
			}
			return report, fmt.Errorf("fetch order %s: %w", rec.OrderID, err)
		}

		if string(venue.Status) == rec.Status && venue.Filled.Equal(rec.Filled) {
			continue
		}

		switch r.policy {
		case PolicyManual:
			report.Conflicts = append(report.Conflicts,
				fmt.Sprintf("%s local=%s venue=%s", rec.OrderID, rec.Status, venue.Status))
		default: // trust_exchange and trust_local both take the venue's word
			// on orders both sides know about; only orphans differ
			if err := r.store.UpdateOrderStatus(ctx, rec.OrderID, venue.Status, venue.Filled); err != nil {
				return report, err
			}
			report.Updated++

			if venue.IsFilled() && r.handler != nil {
				if err := r.handler.OnOrderFilled(ctx, venue); err != nil {
					log.Error().Err(err).Str("order_id", venue.ID).Msg("🚨 Fill replay failed")
				} else {
					report.FillsReplayed++
				}
			} else if venue.Status == types.OrderStatusCanceled || venue.Status == types.OrderStatusExpired {
				if r.handler != nil {
					if err := r.handler.OnOrderCancelled(ctx, venue); err != nil {
						log.Error().Err(err).Str("order_id", venue.ID).Msg("🚨 Cancel replay failed")
					}
				}
			}
		}
	}

	known := make(map[string]bool, len(local))
	for _, rec := range local {
		known[rec.OrderID] = true
	}

	// sweep venue open orders the store has never seen
	for _, symbol := range symbols {
		venueOpen, err := r.ex.FetchOpenOrders(ctx, symbol)
		if err != nil {
			return report, fmt.Errorf("open orders %s: %w", symbol, err)
		}
		for _, o := range venueOpen {
			if known[o.ID] {
				continue
			}

			// a venue-open order the store recorded as terminal means the
			// local close was wrong: a logic bug or DB corruption. Only
			// trust_exchange may recover by re-opening the record.
			rec, err := r.store.OrderByID(ctx, o.ID)
			if err != nil {
				return report, fmt.Errorf("lookup order %s: %w", o.ID, err)
			}
			if rec != nil {
				if r.policy != PolicyTrustExchange {
					return report, fmt.Errorf(
						"order %s is open on the venue but closed locally (status %s); aborting startup",
						o.ID, rec.Status)
				}
				if err := r.store.UpsertOrder(ctx, Record(r.ex.Name(), o)); err != nil {
					return report, err
				}
				report.Updated++
				report.Conflicts = append(report.Conflicts,
					fmt.Sprintf("%s reopened: local=%s venue=%s", o.ID, rec.Status, o.Status))
				log.Warn().Str("order_id", o.ID).Str("local", rec.Status).Msg("⚠️ Closed local order still open on venue, reopened")
				continue
			}

			switch {
			case !Ours(o.ClientOrderID):
				// foreign order on a shared account: never touch it
				report.Conflicts = append(report.Conflicts,
					fmt.Sprintf("foreign open order %s on %s", o.ID, symbol))
			case r.policy == PolicyTrustLocal:
				if _, err := r.ex.CancelOrder(ctx, o.ID, symbol); err != nil {
					return report, fmt.Errorf("cancel orphan %s: %w", o.ID, err)
				}
				report.Cancelled++
				log.Warn().Str("order_id", o.ID).Msg("⚠️ Orphan order cancelled (trust_local)")
			case r.policy == PolicyManual:
				report.Conflicts = append(report.Conflicts,
					fmt.Sprintf("orphan open order %s on %s", o.ID, symbol))
			default:
				if err := r.store.UpsertOrder(ctx, Record(r.ex.Name(), o)); err != nil {
					return report, err
				}
				report.Adopted++
				log.Info().Str("order_id", o.ID).Str("symbol", symbol).Msg("✅ Orphan order adopted")
			}
		}
	}

	log.Info().
		Int("checked", report.Checked).
		Int("updated", report.Updated).
		Int("fills_replayed", report.FillsReplayed).
		Int("adopted", report.Adopted).
		Int("conflicts", len(report.Conflicts)).
		Msg("🔌 Reconciliation complete")
	return report, nil
}
