package host

import (
	"fmt"
	"math"
	"sync"
)

// GasMeter tracks gas spent by one query chain. A limit of 0 never runs out.
type GasMeter struct {
	limit    uint64
	consumed uint64
	mu       sync.Mutex
}

func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

func (g *GasMeter) Limit() uint64 {
	return g.limit
}

func (g *GasMeter) Consumed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumed
}

// Remaining is math.MaxUint64 for an unlimited meter.
func (g *GasMeter) Remaining() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limit == 0 {
		return math.MaxUint64
	}
	return g.limit - g.consumed
}

// ConsumeGas charges amount. On failure the meter is left at its limit.
func (g *GasMeter) ConsumeGas(amount uint64, descriptor string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.consumed + amount
	if next < g.consumed {
		next = math.MaxUint64
	}
	if g.limit > 0 && next > g.limit {
		g.consumed = g.limit
		return fmt.Errorf("%w: %s: wanted %d, limit %d", ErrOutOfGas, descriptor, amount, g.limit)
	}
	g.consumed = next
	return nil
}
