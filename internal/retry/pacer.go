package retry

import (
	"math"
	"sync"
	"time"

	"github.com/nadmax/nexrun/internal/logger"
)

const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultFloor     = 100 * time.Millisecond
	DefaultStep      = 50 * time.Millisecond
	DefaultCeiling   = 30 * time.Second
)

// Pacer computes the delay before each executor call. The delay shrinks by
// step for every consecutive success and never drops below floor.
type Pacer struct {
	mu      sync.Mutex
	base    time.Duration
	floor   time.Duration
	step    time.Duration
	ceiling time.Duration
}

func NewPacer(base, floor, step, ceiling time.Duration) *Pacer {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if floor <= 0 {
		floor = DefaultFloor
	}
	if step < 0 {
		step = DefaultStep
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if ceiling < floor {
		ceiling = floor
	}
	if base > ceiling {
		logger.WithComponent("retry").Warn().
			Dur("base_delay", base).
			Dur("ceiling", ceiling).
			Msg("Base delay above the ceiling, clamped.")
		base = ceiling
	}

	return &Pacer{
		base:    base,
		floor:   floor,
		step:    step,
		ceiling: ceiling,
	}
}

func (p *Pacer) Delay(streak int64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if streak < 0 {
		streak = 0
	}
	if p.step > 0 && streak > int64(p.base/p.step) {
		return p.floor
	}
	d := p.base - time.Duration(streak)*p.step
	if d < p.floor {
		return p.floor
	}
	return d
}

// Backoff multiplies the base delay by factor, capped at the ceiling, and
// returns the new base.
func (p *Pacer) Backoff(factor float64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if factor <= 1 {
		return p.base
	}
	next := time.Duration(math.Round(float64(p.base) * factor))
	if next > p.ceiling || next <= 0 {
		next = p.ceiling
	}
	p.base = next
	return p.base
}

func (p *Pacer) Base() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base
}
