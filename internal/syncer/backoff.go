package syncer

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffFunc returns how long to wait before the given attempt is retried.
// attempt counts from 1 (the first failure).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns min(ceiling, initial * 2^(attempt-1)) spread by
// +/- jitter (0.2 means 20%). With initial=2s and ceiling=30s this is
// 2s, 4s, 8s, 16s, 30s...
func ExponentialBackoff(initial, ceiling time.Duration, jitter float64) BackoffFunc {
	var mu sync.Mutex
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0

	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		mu.Lock()
		defer mu.Unlock()

		b.Reset()
		var d time.Duration
		for i := 0; i < attempt; i++ {
			d = b.NextBackOff()
		}
		if d == backoff.Stop {
			d = ceiling
		}
		return d
	}
}

// NoBackoff retries immediately. Used in tests and the load test.
func NoBackoff(int) time.Duration {
	return 0
}
