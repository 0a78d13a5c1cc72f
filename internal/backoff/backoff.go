// Package backoff computes the wait before a failed delivery is retried.
package backoff

import (
	"errors"
	"math"
	"time"
)

// Base is the wait before the first retry. Every further retry doubles it.
const Base = 100 * time.Millisecond

// MaxWait is returned once doubling Base would overflow time.Duration.
const MaxWait = time.Duration(math.MaxInt64)

// maxShift is the largest retry count whose wait still fits in a Duration.
const maxShift = 36

var ErrInvalidMaxRetries = errors.New("maxRetries must be >= 0")

// Step describes the next attempt of a message that just failed.
type Step struct {
	Retries    int
	MaxRetries int
	WaitFor    time.Duration
}

// Compute returns the next step for a message that has already been retried
// `retries` times. ok is false once the retry budget is spent.
func Compute(retries, maxRetries int) (step Step, ok bool, err error) {
	if maxRetries < 0 {
		return Step{}, false, ErrInvalidMaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	if retries >= maxRetries {
		return Step{}, false, nil
	}

	wait := MaxWait
	if retries <= maxShift {
		wait = Base << uint(retries)
	}
	return Step{
		Retries:    retries + 1,
		MaxRetries: maxRetries,
		WaitFor:    wait,
	}, true, nil
}
