package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: the delay before retry k (1-based) is
// Base * 2^(k-1), capped at Cap. With Jitter enabled each delay is scaled by
// a random factor in [0.5, 1.0] so concurrently failing alerts do not retry
// in lockstep.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter bool

	// rnd is injectable for tests; nil uses the global source.
	rnd *rand.Rand
}

func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}
	if b.Jitter && d > 0 {
		f := 0.5 + 0.5*b.float64()
		d = time.Duration(float64(d) * f)
	}
	return d
}

func (b Backoff) float64() float64 {
	if b.rnd != nil {
		return b.rnd.Float64()
	}
	return rand.Float64()
}
