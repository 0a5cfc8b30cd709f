package runner

import (
	"math/rand/v2"
	"time"
)

// Retry backoff for consecutive retryable failures.
const (
	backoffBase   = 30 * time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Minute
	jitterFrac    = 0.25
)

// backoffDuration returns the delay before retry number n (1-based), with
// ±25% jitter. jitter returns a value in [0, 1); nil uses math/rand. A
// larger server-requested delay wins.
func backoffDuration(n int, retryAfter time.Duration, jitter func() float64) time.Duration {
	if n < 1 {
		n = 1
	}

	d := backoffBase
	for i := 1; i < n && d < backoffCap; i++ {
		d *= backoffFactor
	}

	d = min(d, backoffCap)

	if jitter == nil {
		jitter = rand.Float64
	}

	d = time.Duration(float64(d) * (1 - jitterFrac + 2*jitterFrac*jitter()))

	return max(d, retryAfter)
}
