// Package retry provides bounded retry with exponential backoff for
// transient I/O against the store and the bus.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop. The zero value is unusable; use Default.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Default is the standard transient-I/O policy: 3 attempts, 100ms -> 1s.
func Default() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Max: time.Second}
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done. The
// last error is returned after exhaustion.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Base
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return err
}
