package quota

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer produces randomized inter-request delays drawn from a normal
// distribution centred between min and max and clamped to [min, max].
type Pacer struct {
	min    time.Duration
	max    time.Duration
	stddev time.Duration

	mu   sync.Mutex
	rand func() float64 // uniform in [0, 1)
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// WithRandSource replaces the uniform random source. fn must return values
// in [0, 1).
func WithRandSource(fn func() float64) PacerOption {
	return func(p *Pacer) { p.rand = fn }
}

// NewPacer returns a Pacer for the given envelope. A max below min is
// raised to min.
func NewPacer(min, max, stddev time.Duration, opts ...PacerOption) *Pacer {
	if max < min {
		max = min
	}
	if stddev < 0 {
		stddev = 0
	}
	p := &Pacer{min: min, max: max, stddev: stddev, rand: rand.Float64}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Next returns the next delay.
func (p *Pacer) Next() time.Duration {
	if p.max == p.min {
		return p.min
	}
	mean := float64(p.min+p.max) / 2
	d := mean + p.normal()*float64(p.stddev)

	switch {
	case d < float64(p.min):
		return p.min
	case d > float64(p.max):
		return p.max
	}
	return time.Duration(d)
}

// normal draws a standard normal value with the Box-Muller transform.
// A first uniform of exactly zero is re-drawn so the logarithm is finite.
func (p *Pacer) normal() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	u1 := p.rand()
	for u1 == 0 {
		u1 = p.rand()
	}
	u2 := p.rand()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
