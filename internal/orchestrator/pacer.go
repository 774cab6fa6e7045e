package orchestrator

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces consecutive dispatches by interval ± jitter. The limiter's
// rate is re-drawn after every dispatch so the gap varies per post.
// A nil limiter means pacing is off.
type pacer struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	interval time.Duration
	jitter   float64
	rng      *rand.Rand
}

func newPacer(rng *rand.Rand) *pacer { return &pacer{rng: rng} }

// configure keeps the limiter's accumulated state so a reload never
// releases an extra dispatch.
func (p *pacer) configure(now time.Time, interval time.Duration, jitter float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := interval != p.interval || jitter != p.jitter
	p.interval = interval
	p.jitter = jitter
	switch {
	case interval <= 0:
		p.lim = nil
	case p.lim == nil:
		p.lim = rate.NewLimiter(rate.Every(p.drawLocked()), 1)
	case changed:
		p.lim.SetLimitAt(now, rate.Every(p.drawLocked()))
	}
}

func (p *pacer) drawLocked() time.Duration {
	d := p.interval
	if p.jitter > 0 && p.rng != nil {
		d = time.Duration(float64(d) * (1 + (p.rng.Float64()*2-1)*p.jitter))
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// ready reports whether a dispatch may start at now. It consumes nothing.
func (p *pacer) ready(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lim == nil || p.lim.TokensAt(now) >= 1
}

// dispatched consumes the token for a dispatch started at now and draws the
// gap until the next one.
func (p *pacer) dispatched(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lim == nil {
		return
	}
	p.lim.AllowN(now, 1)
	p.lim.SetLimitAt(now, rate.Every(p.drawLocked()))
}

// nextAt is the earliest time the gate opens.
func (p *pacer) nextAt(now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lim == nil {
		return now
	}
	missing := 1 - p.lim.TokensAt(now)
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / float64(p.lim.Limit()) * float64(time.Second)))
}
