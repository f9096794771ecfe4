package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen is matched by every *OpenError via errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute when the breaker refuses to invoke the
// operation and no fallback was supplied.
type OpenError struct {
	Name string
	// RetryAfter is how long until the breaker will admit a probe.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s (retry in %s)", ErrOpen, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: %s (retry in %s)", e.Name, ErrOpen, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }
