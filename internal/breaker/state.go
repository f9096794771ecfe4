package breaker

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed is the normal operating state. Calls pass through and
	// failures are tracked in the sliding window.
	StateClosed State = iota

	// StateOpen rejects calls until Timeout has elapsed since opening.
	StateOpen

	// StateHalfOpen lets probe calls through. SuccessThreshold successes
	// close the breaker; a single failure reopens it.
	StateHalfOpen
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of a breaker, safe to serialize.
type Snapshot struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
	SuccessCount int    `json:"success_count"`
	// OpenedAt is the RFC3339 time the breaker last opened, empty if never.
	OpenedAt string `json:"opened_at,omitempty"`
}
