package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Breaker states as exported in the state label.
var breakerStates = []string{"closed", "open", "half-open"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current breaker state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Number of breaker state transitions.",
		}, []string{"name", "from", "to"},
	)
	breakerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "calls_total",
			Help:      "Calls through a breaker by result (success, failure, rejected).",
		}, []string{"name", "result"},
	)

	daemonStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "starts_total",
			Help:      "Number of successful daemon spawns.",
		},
	)
	daemonStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "stops_total",
			Help:      "Number of daemon stops (forced = killed after the grace period).",
		}, []string{"forced"},
	)
	stalePIDFiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "stale_pidfiles_total",
			Help:      "Number of stale PID files removed.",
		},
	)
	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "heartbeats_total",
			Help:      "Heartbeat attempts by result (success, failure, rejected).",
		}, []string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		breakerState, breakerTransitions, breakerCalls,
		daemonStarts, daemonStops, stalePIDFiles, heartbeats,
		processCPUPercent, processMemoryMB, processThreads, processUptime,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// RecordBreakerTransition counts a transition and moves the state gauge.
func RecordBreakerTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	breakerTransitions.WithLabelValues(name, from, to).Inc()
	SetBreakerState(name, to)
}

// SetBreakerState marks state as the only active state of the named breaker.
func SetBreakerState(name, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range breakerStates {
		var v float64
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(name, s).Set(v)
	}
}

func IncBreakerCall(name, result string) {
	if regOK.Load() {
		breakerCalls.WithLabelValues(name, result).Inc()
	}
}

func IncDaemonStart() {
	if regOK.Load() {
		daemonStarts.Inc()
	}
}

func IncDaemonStop(forced bool) {
	if regOK.Load() {
		daemonStops.WithLabelValues(strconv.FormatBool(forced)).Inc()
	}
}

func IncStalePIDFile() {
	if regOK.Load() {
		stalePIDFiles.Inc()
	}
}

func IncHeartbeat(result string) {
	if regOK.Load() {
		heartbeats.WithLabelValues(result).Inc()
	}
}
