package metrics

import (
	"github.com/loykin/warden/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage as a share of all logical cores.",
		}, []string{"name"},
	)
	processMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "memory_mb",
			Help:      "Resident memory in MiB.",
		}, []string{"name"},
	)
	processThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "num_threads",
			Help:      "Number of OS threads.",
		}, []string{"name"},
	)
	processUptime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		}, []string{"name"},
	)
)

// ObserveProcess publishes one stats sample under name. A nil sample
// removes the series so stale values are not scraped.
func ObserveProcess(name string, st *stats.ProcessStats) {
	if !regOK.Load() {
		return
	}
	if st == nil {
		processCPUPercent.DeleteLabelValues(name)
		processMemoryMB.DeleteLabelValues(name)
		processThreads.DeleteLabelValues(name)
		processUptime.DeleteLabelValues(name)
		return
	}
	processCPUPercent.WithLabelValues(name).Set(st.CPUPercent)
	processMemoryMB.WithLabelValues(name).Set(st.MemoryMB)
	processThreads.WithLabelValues(name).Set(float64(st.ThreadCount))
	processUptime.WithLabelValues(name).Set(float64(st.UptimeSeconds))
}
