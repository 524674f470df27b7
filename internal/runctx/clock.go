package runctx

import "time"

// Clock abstracts time for TTL decisions so sweeps can be tested without
// waiting on wall-clock hours.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
