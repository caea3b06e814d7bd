package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/aws/smithy-go"
)

// Limiter is an additive-increase / multiplicative-decrease concurrency
// governor. Scan tasks hammer provider APIs; when those push back with
// throttling errors the limiter halves the worker target, and it creeps
// back up while latencies stay healthy.
type Limiter struct {
	mu         sync.Mutex
	target     int
	minWorkers int
	maxWorkers int
	lastChange time.Time
}

// NewLimiter starts at the ceiling; scan pools are small enough that
// probing downward on pushback beats ramping up from one.
func NewLimiter(min, max int) *Limiter {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &Limiter{
		target:     max,
		minWorkers: min,
		maxWorkers: max,
		lastChange: time.Now(),
	}
}

// Target returns the current worker target.
func (l *Limiter) Target() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// Feedback folds one task's outcome into the target.
func (l *Limiter) Feedback(latency time.Duration, throttled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	// Dampen oscillation.
	if now.Sub(l.lastChange) < 100*time.Millisecond {
		return
	}

	if throttled {
		l.target /= 2
		if l.target < l.minWorkers {
			l.target = l.minWorkers
		}
		l.lastChange = now
		return
	}

	if latency < time.Second && l.target < l.maxWorkers {
		l.target++
		l.lastChange = now
	}
}

// throttleCodes are the provider error codes that mean "back off", across
// the storage and database APIs the connectors touch.
var throttleCodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"RequestLimitExceeded":                   {},
	"SlowDown":                               {},
	"TooManyRequestsException":               {},
	"ProvisionedThroughputExceededException": {},
}

// IsThrottle reports whether an error is provider pushback rather than a
// task failure.
func IsThrottle(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := throttleCodes[apiErr.ErrorCode()]
	return ok
}
