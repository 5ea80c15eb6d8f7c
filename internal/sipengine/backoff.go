package sipengine

import (
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// backoff implements exponential retry with jitter, used to pace the
// single automatic reconnect after a registration connection reset.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		baseDelay: 1 * time.Second,
		maxDelay:  30 * time.Second,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}

// NewCAPFRetryLimiter paces CAPF server fan-out attempts so a host trying
// several configured CAPF servers in turn cannot hammer a flapping one: at
// most one attempt per second, with a burst of 2 to let the first couple
// of servers be tried back-to-back.
func NewCAPFRetryLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(1), 2)
}
