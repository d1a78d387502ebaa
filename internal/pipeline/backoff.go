package pipeline

import "time"

// Backoff computes the delay before a failed job is retried
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used when the configuration leaves the delays unset
var DefaultBackoff = Backoff{Base: 2 * time.Second, Max: 5 * time.Minute}

// Delay returns Base * 2^(retry-1) for the retry-th retry, capped at Max.
// The doubling stops after 10 steps to prevent overflow.
func (b Backoff) Delay(retry int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}

	multiplier := 1
	for i := 1; i < retry && i <= 10; i++ {
		multiplier *= 2
	}
	delay := base * time.Duration(multiplier)

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
