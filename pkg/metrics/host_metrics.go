// Host-specific metrics definitions
//
// Defines all metrics for the stimulation host including:
// - Tick loop health (rate, overruns, duration)
// - Thermode communication (readback retries, exhaustion)
// - QC outcomes (ramp flags, cycles completed)
// - Output and monitor activity
// - System metrics
//
// Copyright (C) 2026  tpRF Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// Block runner states as gauge values.
const (
	StateIdle = iota
	StatePreBaseline
	StateStimulating
	StatePostBaseline
	StateDone
	StateAborted
)

// HostMetrics holds all stimulation-host metrics
type HostMetrics struct {
	// Tick loop metrics
	TicksTotal    *Counter
	TickOverruns  *Counter
	TickDuration  *Histogram
	DriftRate     *Gauge
	DriftOffset   *Gauge

	// Thermode metrics
	ZoneSetTemperature    *Gauge
	ZoneActualTemperature *Gauge
	NaNRetries            *Counter
	RetryExhaustion       *Counter

	// QC metrics
	RampFlags       *Counter
	CyclesCompleted *Counter
	OnsetLatency    *Gauge
	TempError       *Gauge

	// Output metrics
	SamplesWritten *Counter
	RowsDropped    *Counter

	// Block metrics
	BlockState    *Gauge
	BlockDuration *Gauge

	// Monitor metrics
	MonitorClients  *Gauge
	MessagesDropped *Counter

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal   *Counter
	WarningsTotal *Counter

	// Internal
	startTime time.Time
	registry  *Registry
}

// NewHostMetrics creates and registers all host metrics
func NewHostMetrics() *HostMetrics {
	hm := &HostMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Tick loop metrics
	hm.TicksTotal = NewCounter("tprf_ticks_total",
		"Total sample ticks executed")
	hm.TickOverruns = NewCounter("tprf_tick_overruns_total",
		"Ticks that missed their 100 ms deadline")
	hm.TickDuration = NewHistogram("tprf_tick_duration_seconds",
		"Per-tick work duration", []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25})
	hm.DriftRate = NewGauge("tprf_drift_rate",
		"Achieved-vs-nominal time slope (1.0 = keeping pace)")
	hm.DriftOffset = NewGauge("tprf_drift_offset_seconds",
		"Mean lag of achieved behind nominal tick time")

	// Thermode metrics
	hm.ZoneSetTemperature = NewGauge("tprf_zone_set_celsius",
		"Last commanded temperature per zone")
	hm.ZoneActualTemperature = NewGauge("tprf_zone_actual_celsius",
		"Last probe reading per zone")
	hm.NaNRetries = NewCounter("tprf_nan_retries_total",
		"Readback retries due to NaN readings")
	hm.RetryExhaustion = NewCounter("tprf_retry_exhaustion_total",
		"Readbacks still NaN after all retries")

	// QC metrics
	hm.RampFlags = NewCounter("tprf_qc_ramp_flags_total",
		"Samples with out-of-tolerance ramp rate")
	hm.CyclesCompleted = NewCounter("tprf_cycles_completed_total",
		"Stimulation cycles completed")
	hm.OnsetLatency = NewGauge("tprf_qc_onset_latency_seconds",
		"Last cycle's onset latency")
	hm.TempError = NewGauge("tprf_qc_mean_temp_error_celsius",
		"Last cycle's mean command tracking error")

	// Output metrics
	hm.SamplesWritten = NewCounter("tprf_samples_written_total",
		"Sample rows appended to the thermode TSV")
	hm.RowsDropped = NewCounter("tprf_rows_dropped_total",
		"Sample rows dropped due to sink write errors")

	// Block metrics
	hm.BlockState = NewGauge("tprf_block_state",
		"Runner state (0=idle, 1=pre-baseline, 2=stimulating, 3=post-baseline, 4=done, 5=aborted)")
	hm.BlockDuration = NewGauge("tprf_block_duration_seconds",
		"Elapsed time in the current block")

	// Monitor metrics
	hm.MonitorClients = NewGauge("tprf_monitor_clients",
		"Connected monitor WebSocket clients")
	hm.MessagesDropped = NewCounter("tprf_monitor_messages_dropped_total",
		"Monitor messages dropped to keep the loop unblocked")

	// System metrics
	hm.HostUptime = NewCounter("tprf_host_uptime_seconds_total",
		"Total host uptime in seconds")
	hm.GoGoroutines = NewGauge("tprf_go_goroutines",
		"Number of active goroutines")
	hm.GoMemoryHeap = NewGauge("tprf_go_memory_heap_bytes",
		"Go heap memory in use")
	hm.GoMemoryAlloc = NewGauge("tprf_go_memory_alloc_bytes",
		"Go total memory allocated")
	hm.GoGCCycles = NewCounter("tprf_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	// Error metrics
	hm.ErrorsTotal = NewCounter("tprf_errors_total",
		"Total errors by type")
	hm.WarningsTotal = NewCounter("tprf_warnings_total",
		"Total warnings by type")

	hm.registerAll()
	return hm
}

// registerAll registers all metrics with the internal registry
func (hm *HostMetrics) registerAll() {
	metrics := []Metric{
		hm.TicksTotal, hm.TickOverruns, hm.TickDuration,
		hm.DriftRate, hm.DriftOffset,
		hm.ZoneSetTemperature, hm.ZoneActualTemperature,
		hm.NaNRetries, hm.RetryExhaustion,
		hm.RampFlags, hm.CyclesCompleted, hm.OnsetLatency, hm.TempError,
		hm.SamplesWritten, hm.RowsDropped,
		hm.BlockState, hm.BlockDuration,
		hm.MonitorClients, hm.MessagesDropped,
		hm.HostUptime, hm.GoGoroutines, hm.GoMemoryHeap, hm.GoMemoryAlloc,
		hm.GoGCCycles,
		hm.ErrorsTotal, hm.WarningsTotal,
	}
	for _, m := range metrics {
		hm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (hm *HostMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	hm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	hm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	hm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	hm.GoGCCycles.Add(nil, uint64(m.NumGC)-hm.GoGCCycles.Get(nil))
	hm.HostUptime.Add(nil, uint64(time.Since(hm.startTime).Seconds()))
}

// ObserveTick records one tick's work duration and whether it overran.
func (hm *HostMetrics) ObserveTick(duration float64, overrun bool) {
	hm.TicksTotal.Inc(nil)
	hm.TickDuration.Observe(nil, duration)
	if overrun {
		hm.TickOverruns.Inc(nil)
	}
}

// SetZoneTemperatures records the latest commanded and actual readings.
func (hm *HostMetrics) SetZoneTemperatures(set, actual [5]float64) {
	for z := 0; z < 5; z++ {
		labels := Labels{"zone": zoneLabel(z)}
		hm.ZoneSetTemperature.Set(labels, set[z])
		hm.ZoneActualTemperature.Set(labels, actual[z])
	}
}

// SetDrift records the drift estimator's current view.
func (hm *HostMetrics) SetDrift(rate, offset float64) {
	hm.DriftRate.Set(nil, rate)
	hm.DriftOffset.Set(nil, offset)
}

// RecordError increments error count by type
func (hm *HostMetrics) RecordError(errorType string) {
	hm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// RecordWarning increments warning count by type
func (hm *HostMetrics) RecordWarning(warningType string) {
	hm.WarningsTotal.Inc(Labels{"type": warningType})
}

// Registry returns the internal registry for exposition
func (hm *HostMetrics) Registry() *Registry {
	return hm.registry
}

// Gather returns all metrics in Prometheus text format
func (hm *HostMetrics) Gather() string {
	hm.UpdateSystemMetrics()
	return hm.registry.Gather()
}

var (
	globalMetrics     *HostMetrics
	globalMetricsOnce sync.Once
)

// GlobalMetrics returns the global host metrics instance
func GlobalMetrics() *HostMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewHostMetrics()
	})
	return globalMetrics
}

var zoneLabels = [5]string{"1", "2", "3", "4", "5"}

func zoneLabel(z int) string {
	if z >= 0 && z < 5 {
		return zoneLabels[z]
	}
	return "?"
}
