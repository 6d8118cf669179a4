package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/store"
	"github.com/kenneth/zk-vault/internal/vault"
)

func newUnlockedVault(t *testing.T) (*vault.Vault, *store.MemoryBlobStore) {
	t.Helper()
	kdf, err := crypto.NewKDF(1000)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	blobs := store.NewMemoryBlobStore()
	v, err := vault.New(vault.Options{
		AccountID:    "bench",
		MasterKDF:    kdf,
		SecondaryKDF: kdf,
		Blobs:        blobs,
		Metadata:     store.NewMemoryMetadataStore(),
		Logger:       logger,
	})
	require.NoError(t, err)
	require.NoError(t, v.Register(context.Background(), []byte("bench password")))
	return v, blobs
}

func TestRun(t *testing.T) {
	v, blobs := newUnlockedVault(t)

	results, err := Run(context.Background(), v, Config{
		Workers:        3,
		Duration:       200 * time.Millisecond,
		FileSize:       1024,
		SecondaryEvery: 4,
	}, nil)
	require.NoError(t, err)

	assert.Positive(t, results.TotalRoundTrips)
	assert.Zero(t, results.FailedTrips)
	assert.Equal(t, results.TotalRoundTrips, results.SuccessfulTrips)
	assert.Equal(t, results.SuccessfulTrips*1024, results.TotalBytesSealed)
	assert.LessOrEqual(t, results.MinLatency, results.P50Latency)
	assert.LessOrEqual(t, results.P50Latency, results.P99Latency)
	assert.LessOrEqual(t, results.P99Latency, results.MaxLatency)
	assert.Equal(t, 0, blobs.Len(), "round trips clean up after themselves")

	files, err := v.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRun_LockedVaultFails(t *testing.T) {
	v, _ := newUnlockedVault(t)
	v.Lock()

	results, err := Run(context.Background(), v, Config{Workers: 1, Duration: 20 * time.Millisecond, FileSize: 16}, nil)
	require.NoError(t, err)
	assert.Positive(t, results.FailedTrips)
	assert.Equal(t, 1.0, results.ErrorRate)
	assert.Zero(t, results.MinLatency)
}

func TestRun_InvalidConfig(t *testing.T) {
	v, _ := newUnlockedVault(t)
	_, err := Run(context.Background(), v, Config{Workers: 0, Duration: time.Second}, nil)
	assert.Error(t, err)
	_, err = Run(context.Background(), v, Config{Workers: 1}, nil)
	assert.Error(t, err)
}

func TestAnalyzeRegression(t *testing.T) {
	baselineFile := filepath.Join(t.TempDir(), "baselines", "seal-open.json")
	baseline := &Results{
		TestName:   "seal-open-1024B",
		AvgLatency: 10 * time.Millisecond,
		Throughput: 100,
	}
	require.NoError(t, SaveBaseline(baseline, baselineFile))

	tests := []struct {
		name       string
		current    Results
		regression bool
	}{
		{"within threshold", Results{AvgLatency: 10500 * time.Microsecond, Throughput: 98}, false},
		{"faster is not a regression", Results{AvgLatency: 5 * time.Millisecond, Throughput: 200}, false},
		{"slower", Results{AvgLatency: 15 * time.Millisecond, Throughput: 100}, true},
		{"lower throughput", Results{AvgLatency: 10 * time.Millisecond, Throughput: 50}, true},
		{"errors", Results{AvgLatency: 10 * time.Millisecond, Throughput: 100, ErrorRate: 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := AnalyzeRegression(&tt.current, baselineFile, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.regression, result.SignificantRegression, result.Details)

			var buf bytes.Buffer
			PrintRegression(&buf, result)
			assert.Contains(t, buf.String(), "Significant Regression")
		})
	}

	_, err := AnalyzeRegression(&Results{}, filepath.Join(t.TempDir(), "missing.json"), 10)
	assert.Error(t, err)
}
