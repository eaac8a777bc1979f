package alert

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gridbot/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ALERTS - Fan-out notifications with delivery log
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every alert is attempted on every configured channel; one channel
// failing never blocks the others or the trading path. Each attempt is
// recorded in the alert log with its outcome.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Kind classifies an alert for filtering and the log
type Kind string

const (
	KindTrade   Kind = "trade"
	KindFill    Kind = "fill"
	KindError   Kind = "error"
	KindBreaker Kind = "circuit_breaker"
	KindStartup Kind = "startup"
	KindInfo    Kind = "info"
)

// Notifier is one delivery channel
type Notifier interface {
	Name() string
	Send(ctx context.Context, kind Kind, message string) error
}

// Dispatcher fans alerts out to all channels concurrently
type Dispatcher struct {
	notifiers []Notifier
	store     *storage.Store // nil → no delivery log
}

// NewDispatcher builds a fan-out over the given channels
func NewDispatcher(store *storage.Store, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, store: store}
}

// Send delivers to every channel and logs each attempt. It never
// returns an error; alerting is best-effort.
func (d *Dispatcher) Send(ctx context.Context, kind Kind, message string, metadata map[string]interface{}) {
	metaJSON := ""
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			metaJSON = string(b)
		}
	}

	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			err := n.Send(ctx, kind, message)
			if err != nil {
				log.Warn().Err(err).Str("channel", n.Name()).Str("kind", string(kind)).Msg("⚠️ Alert delivery failed")
			}
			if d.store != nil {
				if logErr := d.store.LogAlert(ctx, string(kind), n.Name(), message, metaJSON, err == nil); logErr != nil {
					log.Debug().Err(logErr).Msg("Alert log write failed")
				}
			}
		}(n)
	}
	wg.Wait()
}

// Channels lists the configured channel names
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}
