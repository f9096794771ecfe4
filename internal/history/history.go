package history

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventKill    EventType = "kill"  // stop escalated to SIGKILL
	EventStale   EventType = "stale" // stale PID file removed
	EventRestart EventType = "restart"
)

// Event is one daemon lifecycle event.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent stamps an event with the current time and host name.
func NewEvent(t EventType, pid int, detail string) Event {
	host, _ := os.Hostname()
	return Event{Type: t, OccurredAt: time.Now().UTC(), PID: pid, Host: host, Detail: detail}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// List returns up to limit events, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Event, error)
}

// Recorder fans events out to several sinks. Send failures are logged and
// never returned, so history can't break daemon control.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{logger: logger.With("component", "history")}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record sends e to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Error("failed to record history event", "type", e.Type, "pid", e.PID, "error", err)
		}
	}
}

// List reads from the first sink that supports listing.
func (r *Recorder) List(ctx context.Context, limit int) ([]Event, error) {
	if r != nil {
		for _, s := range r.sinks {
			if rd, ok := s.(Reader); ok {
				return rd.List(ctx, limit)
			}
		}
	}
	return nil, errors.New("no history sink supports listing")
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
