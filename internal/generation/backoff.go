package generation

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// maxDoublings caps the exponent when no maximum delay is configured
const maxDoublings = 30

// Backoff computes exponential delays with additive jitter
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter returns a random extra delay in [0, limit). Nil disables jitter.
	Jitter func(limit time.Duration) time.Duration
}

// NewBackoff creates a Backoff with random jitter of up to one base delay
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{
		Base:   base,
		Max:    max,
		Jitter: randomJitter,
	}
}

// Delay returns min(Max, Base*2^attempt + jitter), raised to retryAfter when
// the server asked for a longer wait. The result never exceeds Max and
// saturates instead of overflowing when Max is unset.
func (b *Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := b.Base
	for i := 0; i < attempt && i < maxDoublings; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}

	if b.Jitter != nil && b.Base > 0 {
		if j := b.Jitter(b.Base); j > 0 && d <= math.MaxInt64-j {
			d += j
		} else if j > 0 {
			d = math.MaxInt64
		}
	}
	if retryAfter > d {
		d = retryAfter
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
