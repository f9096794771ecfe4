package breaker

import "time"

// Clock supplies the current time. Tests replace it to drive the sliding
// window and open timeout deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
