package client

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before a retry attempt. Attempt numbering
// starts at 1; attempt 0 and below always yield zero delay.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval between every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.Interval
}

// LinearBackoff grows the delay by Increment per attempt:
// Initial + Increment*(attempt-1), capped at Max when Max is set.
type LinearBackoff struct {
	Initial   time.Duration
	Increment time.Duration
	Max       time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := b.Initial + time.Duration(attempt-1)*b.Increment
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// ExponentialBackoff doubles (or multiplies by Multiplier) the delay per
// attempt: Initial * Multiplier^(attempt-1), capped at Max. Jitter between
// 0 and 1 randomizes the final delay to avoid synchronized retries.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		j := b.Jitter
		if j > 1 {
			j = 1
		}
		// Keep (1-j)..1 of the computed delay.
		d = d * (1 - j + j*rand.Float64())
	}
	return time.Duration(d)
}

// DefaultBackoff is the strategy used when a Client is built without one.
func DefaultBackoff() Strategy {
	return ExponentialBackoff{Initial: 250 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second}
}
