package sentinel

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// pollBackoff paces retries after failed polls. Delays grow exponentially
// from base, are capped at max, and never give up; a successful poll resets
// the sequence.
type pollBackoff struct {
	inner *backoff.ExponentialBackOff
	max   time.Duration
}

func newPollBackoff(base, max time.Duration) *pollBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return &pollBackoff{inner: b, max: max}
}

func (b *pollBackoff) Next() time.Duration {
	d := b.inner.NextBackOff()
	if d == backoff.Stop || d > b.max+b.max/5 {
		return b.max
	}
	return d
}

func (b *pollBackoff) Reset() {
	b.inner.Reset()
}
