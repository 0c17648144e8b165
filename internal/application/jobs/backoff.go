package jobs

import (
	"math/rand/v2"
	"time"
)

const baseBackoff = time.Second

// backoffDelay computes the retry delay after the given attempt count
// (1-based): base * 2^(attempts-1), capped at max, plus up to 30% jitter so
// that jobs failed in the same batch do not retry in lockstep.
func backoffDelay(attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := baseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := time.Duration(rand.Int64N(int64(delay)*3/10 + 1))
	return delay + jitter
}
