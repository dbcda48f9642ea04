package task

import (
	"math"
	"time"
)

// backoffCapExp caps the exponential retry delay at 2^6 = 64 seconds.
const backoffCapExp = 6

// Backoff returns the delay before the next retry after the given attempt
// number (the attempt that just failed, post-increment). Capped exponential:
// 2s, 4s, 8s, ... 64s.
func Backoff(attempt int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempt)), math.Pow(2, backoffCapExp))
	return time.Duration(sec) * time.Second
}
