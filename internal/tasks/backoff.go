package tasks

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before retry attempt n (1-based):
// exponential doubling from base, capped, with up to 25% additive
// jitter. The jitter band is narrow enough that delays between
// consecutive attempts stay strictly increasing until the cap.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	if delay+jitter > cap {
		return cap
	}
	return delay + jitter
}
