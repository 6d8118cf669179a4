package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordOperation("seal", 10*time.Millisecond, 2)
	m.RecordOperation("seal", 20*time.Millisecond, 3)
	m.RecordOperation("list", time.Millisecond, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("seal", "success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.operationBytes.WithLabelValues("seal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("list", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordError("open", "decryption")
	m.RecordError("open", "decryption")
	m.RecordError("open", "secondary_password_required")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("open", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("open", "decryption")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("open", "secondary_password_required")))
}

func TestRecordRotation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRotation("committed", 3)
	m.RecordRotation("aborted", 0)
	m.RecordRotation("committed", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.keyRotations.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keyRotations.WithLabelValues("aborted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.filesRewrapped))
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordKDF("master")
	m.RecordUnlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionUnlocked))

	m.RecordLock("idle_timeout")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionUnlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionLocks.WithLabelValues("idle_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.kdfDerivations.WithLabelValues("master")))
}

func TestRecordBlobOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordBlobOperation("put", "s3", 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blobOperations.WithLabelValues("put", "s3")))
}

func TestMetricsDescriptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	m.RecordError("unlock", "incorrect_password")

	expected := `
# HELP vault_operation_errors_total Total number of vault operation errors
# TYPE vault_operation_errors_total counter
vault_operation_errors_total{error_type="incorrect_password",operation="unlock"} 1
`
	err := testutil.CollectAndCompare(m.operationErrors, strings.NewReader(expected), "vault_operation_errors_total")
	assert.NoError(t, err)
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	m.RecordOperation("seal", time.Millisecond, 2)

	path := filepath.Join(t.TempDir(), "vault.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `vault_operations_total{operation="seal",result="success"} 1`)
	assert.Contains(t, string(data), "vault_goroutines")
}
