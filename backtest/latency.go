package backtest

import (
	"math/rand"
	"time"
)

// fallbackRng serves models built without an explicit source; seeded
// runs that need reproducibility set Rng themselves
var fallbackRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// LatencyModel delays order arrival at the simulated venue. A delayed
// market order fills at the post-delay price; a delayed limit order
// fills only if the post-delay price still honors the limit.
type LatencyModel struct {
	Min              time.Duration
	Max              time.Duration
	SpikeProbability float64 // chance of a latency spike per order
	SpikeMax         time.Duration
	Rng              *rand.Rand
}

// Delay draws one order's latency
func (l *LatencyModel) Delay() time.Duration {
	if l == nil {
		return 0
	}
	rng := l.Rng
	if rng == nil {
		rng = fallbackRng
	}
	if l.SpikeProbability > 0 && rng.Float64() < l.SpikeProbability {
		return time.Duration(rng.Float64() * float64(l.SpikeMax))
	}
	span := l.Max - l.Min
	if span <= 0 {
		return l.Min
	}
	return l.Min + time.Duration(rng.Float64()*float64(span))
}
