package metrics

import (
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all vault metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	operationBytes    *prometheus.CounterVec
	kdfDerivations    *prometheus.CounterVec
	keyRotations      *prometheus.CounterVec
	filesRewrapped    prometheus.Counter
	sessionLocks      *prometheus.CounterVec
	sessionUnlocked   prometheus.Gauge
	blobOperations    *prometheus.CounterVec
	blobDuration      *prometheus.HistogramVec
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
}

// NewMetrics creates a metrics instance on the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry creates a metrics instance with a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_operations_total",
				Help: "Total number of vault operations",
			},
			[]string{"operation", "result"}, // result: "success" or "error"
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_operation_duration_seconds",
				Help:    "Vault operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_operation_errors_total",
				Help: "Total number of vault operation errors",
			},
			[]string{"operation", "error_type"},
		),
		operationBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_bytes_total",
				Help: "Total plaintext bytes sealed or opened",
			},
			[]string{"operation"},
		),
		kdfDerivations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_kdf_derivations_total",
				Help: "Total number of password-based key derivations",
			},
			[]string{"purpose"}, // "master" or "secondary"
		),
		keyRotations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_key_rotations_total",
				Help: "Total number of master password rotations by final state",
			},
			[]string{"state"},
		),
		filesRewrapped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vault_rotation_files_rewrapped_total",
				Help: "Total number of file keys re-wrapped by committed rotations",
			},
		),
		sessionLocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_session_locks_total",
				Help: "Total number of session locks by reason",
			},
			[]string{"reason"},
		),
		sessionUnlocked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_session_unlocked",
				Help: "1 while a master key is held in memory",
			},
		),
		blobOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_blob_operations_total",
				Help: "Total number of blob store operations",
			},
			[]string{"operation", "backend"},
		),
		blobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_blob_operation_duration_seconds",
				Help:    "Blob store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
	}
}

// RecordOperation records a completed vault operation.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, bytes int64) {
	m.operationsTotal.WithLabelValues(operation, "success").Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if bytes > 0 {
		m.operationBytes.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordError records a failed vault operation.
func (m *Metrics) RecordError(operation, errorType string) {
	m.operationsTotal.WithLabelValues(operation, "error").Inc()
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordKDF records a password-based key derivation.
func (m *Metrics) RecordKDF(purpose string) {
	m.kdfDerivations.WithLabelValues(purpose).Inc()
}

// RecordRotation records the final state of a master password rotation.
func (m *Metrics) RecordRotation(state string, filesRewrapped int) {
	m.keyRotations.WithLabelValues(state).Inc()
	if filesRewrapped > 0 {
		m.filesRewrapped.Add(float64(filesRewrapped))
	}
}

// RecordUnlock marks the session as unlocked.
func (m *Metrics) RecordUnlock() {
	m.sessionUnlocked.Set(1)
}

// RecordLock records a session lock.
func (m *Metrics) RecordLock(reason string) {
	m.sessionLocks.WithLabelValues(reason).Inc()
	m.sessionUnlocked.Set(0)
}

// RecordBlobOperation records a blob store operation.
func (m *Metrics) RecordBlobOperation(operation, backend string, duration time.Duration) {
	m.blobOperations.WithLabelValues(operation, backend).Inc()
	m.blobDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
}

// WriteTextfile writes all gathered metrics in the text exposition format, for
// collection by the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	m.UpdateSystemMetrics()
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
