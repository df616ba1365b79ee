package pacing

import (
	"context"
	"math/rand"
	"time"
)

// Pacer spaces browser interactions out to a human rhythm. The portal's
// frontend debounces rapid input, so submitting at machine speed loses
// keystrokes.
type Pacer struct {
	inputDelay  time.Duration
	settleDelay time.Duration
	rng         *rand.Rand
}

// New creates a pacer from the configured base delays
func New(inputDelay, settleDelay time.Duration) *Pacer {
	return &Pacer{
		inputDelay:  inputDelay,
		settleDelay: settleDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pause waits one input delay between form interactions
func (p *Pacer) Pause(ctx context.Context) error {
	return p.Sleep(ctx, p.inputDelay)
}

// Settle waits for the page to catch up after navigation or submission
func (p *Pacer) Settle(ctx context.Context) error {
	return p.Sleep(ctx, p.settleDelay)
}

// SettleDelay returns the configured settle duration
func (p *Pacer) SettleDelay() time.Duration {
	return p.settleDelay
}

// Sleep waits for d or until the context is cancelled
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KeyInterval returns a randomized delay for a single keystroke, derived
// from the input delay so one knob controls the overall pace
func (p *Pacer) KeyInterval() time.Duration {
	min := p.inputDelay / 10
	max := p.inputDelay / 3
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

// Hesitation occasionally reports a longer thinking pause mid-typing
func (p *Pacer) Hesitation() (time.Duration, bool) {
	if p.rng.Float64() >= 0.3 {
		return 0, false
	}
	return time.Duration(200+p.rng.Intn(300)) * time.Millisecond, true
}
