// Package backoff provides exponential backoff with jitter and generic retry helpers.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// Compute calculates the delay to sleep after the given attempt number.
// Attempt numbers start at 1.
func Compute(p Policy, attempt int) time.Duration {
	return ComputeWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// ComputeWithRand calculates the delay using a caller-provided random value
// in [0.0, 1.0). Tests use this for deterministic results.
// base = Initial * Factor^(attempt-1); delay = min(Max, base + base*Jitter*random).
func ComputeWithRand(p Policy, attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if max := float64(p.Max); total > max {
		total = max
	}
	return time.Duration(math.Round(total/float64(time.Millisecond))) * time.Millisecond
}

// RouterPolicy is the retry profile for remote LLM calls:
// 1s initial, doubling, capped at 30s, ±20% jitter.
func RouterPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// DeliveryPolicy is the retry profile for synchronous bus handler delivery:
// 200ms initial, doubling, capped at 2s, ±20% jitter.
func DeliveryPolicy() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     2 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// LockPolicy is the retry profile for per-entity lock acquisition:
// quick retries with a short cap.
func LockPolicy() Policy {
	return Policy{
		Initial: 50 * time.Millisecond,
		Max:     time.Second,
		Factor:  1.5,
		Jitter:  0.1,
	}
}
