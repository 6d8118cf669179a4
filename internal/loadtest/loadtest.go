// Package loadtest drives concurrent upload and download round trips through a vault
// and compares the results against a stored baseline.
package loadtest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/zk-vault/internal/vault"
)

// Config holds load test parameters.
type Config struct {
	Workers  int
	Duration time.Duration
	FileSize int64
	// SecondaryEvery double-wraps every Nth upload. Zero disables it.
	SecondaryEvery      int
	BaselineFile        string
	RegressionThreshold float64 // percent
}

// Results holds metrics for regression tracking.
type Results struct {
	Timestamp        time.Time     `json:"timestamp"`
	TestName         string        `json:"test_name"`
	Duration         time.Duration `json:"duration"`
	TotalRoundTrips  int64         `json:"total_round_trips"`
	SuccessfulTrips  int64         `json:"successful_round_trips"`
	FailedTrips      int64         `json:"failed_round_trips"`
	SecondaryTrips   int64         `json:"secondary_round_trips"`
	P50Latency       time.Duration `json:"p50_latency"`
	P95Latency       time.Duration `json:"p95_latency"`
	P99Latency       time.Duration `json:"p99_latency"`
	AvgLatency       time.Duration `json:"avg_latency"`
	MinLatency       time.Duration `json:"min_latency"`
	MaxLatency       time.Duration `json:"max_latency"`
	Throughput       float64       `json:"throughput_trips_per_sec"`
	TotalBytesSealed int64         `json:"total_bytes_sealed"`
	TotalBytesOpened int64         `json:"total_bytes_opened"`
	ErrorRate        float64       `json:"error_rate"`
}

// RegressionResult holds the result of comparing Results against a baseline.
type RegressionResult struct {
	TestName              string
	Baseline              *Results
	Current               *Results
	LatencyRegression     float64 // percent change in average latency
	ThroughputRegression  float64 // percent change in throughput
	ErrorRateRegression   float64 // percentage points
	SignificantRegression bool
	Details               []string
}

// secondaryPassword protects double-wrapped benchmark files.
var secondaryPassword = []byte("loadtest-secondary")

// Run uploads and downloads files through v until cfg.Duration elapses. v must be unlocked.
func Run(ctx context.Context, v *vault.Vault, cfg Config, logger *logrus.Logger) (*Results, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("loadtest: workers must be positive")
	}
	if cfg.Duration <= 0 {
		return nil, errors.New("loadtest: duration must be positive")
	}

	payload := make([]byte, cfg.FileSize)
	if _, err := rand.Read(payload); err != nil {
		return nil, fmt.Errorf("failed to generate payload: %w", err)
	}

	results := &Results{
		Timestamp:  time.Now().UTC(),
		TestName:   fmt.Sprintf("seal-open-%dB", cfg.FileSize),
		MinLatency: time.Hour,
	}

	var (
		wg          sync.WaitGroup
		latenciesMu sync.Mutex
		latencies   []time.Duration
		seq         int64
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	start := time.Now()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for ctx.Err() == nil {
				n := atomic.AddInt64(&seq, 1)
				secondary := cfg.SecondaryEvery > 0 && n%int64(cfg.SecondaryEvery) == 0

				tripStart := time.Now()
				err := roundTrip(context.Background(), v, payload, n, secondary)
				latency := time.Since(tripStart)
				atomic.AddInt64(&results.TotalRoundTrips, 1)

				if err != nil {
					atomic.AddInt64(&results.FailedTrips, 1)
					logger.WithError(err).WithField("worker", workerID).Debug("Round trip failed")
					continue
				}
				atomic.AddInt64(&results.SuccessfulTrips, 1)
				atomic.AddInt64(&results.TotalBytesSealed, int64(len(payload)))
				atomic.AddInt64(&results.TotalBytesOpened, int64(len(payload)))
				if secondary {
					atomic.AddInt64(&results.SecondaryTrips, 1)
				}

				latenciesMu.Lock()
				latencies = append(latencies, latency)
				if latency < results.MinLatency {
					results.MinLatency = latency
				}
				if latency > results.MaxLatency {
					results.MaxLatency = latency
				}
				latenciesMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	results.Duration = time.Since(start)
	if len(latencies) == 0 {
		results.MinLatency = 0
	}
	results.AvgLatency = averageLatency(latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	results.P50Latency = percentileLatency(latencies, 0.50)
	results.P95Latency = percentileLatency(latencies, 0.95)
	results.P99Latency = percentileLatency(latencies, 0.99)

	results.Throughput = float64(results.SuccessfulTrips) / results.Duration.Seconds()
	if results.TotalRoundTrips > 0 {
		results.ErrorRate = float64(results.FailedTrips) / float64(results.TotalRoundTrips)
	}

	logger.WithFields(logrus.Fields{
		"round_trips": results.TotalRoundTrips,
		"failed":      results.FailedTrips,
		"duration":    results.Duration,
	}).Info("Load test complete")
	return results, nil
}

// roundTrip seals, opens, verifies and deletes one file.
func roundTrip(ctx context.Context, v *vault.Vault, payload []byte, n int64, secondary bool) error {
	req := vault.UploadRequest{Name: fmt.Sprintf("loadtest-%d.bin", n), Data: payload}
	if secondary {
		req.SecondaryPassword = secondaryPassword
	}
	info, err := v.Upload(ctx, req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = v.Delete(ctx, info.ID) }()

	var sp []byte
	if secondary {
		sp = secondaryPassword
	}
	file, err := v.Download(ctx, info.ID, sp)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if !bytes.Equal(file.Data, payload) {
		return fmt.Errorf("file %s: content mismatch", info.ID)
	}
	return nil
}

func averageLatency(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range latencies {
		total += lat
	}
	return total / time.Duration(len(latencies))
}

// percentileLatency expects sorted latencies.
func percentileLatency(sorted []time.Duration, percentile float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*percentile)]
}

// SaveBaseline writes results to filename as JSON.
func SaveBaseline(results *Results, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// LoadBaseline reads results saved by SaveBaseline.
func LoadBaseline(filename string) (*Results, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var results Results
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// AnalyzeRegression compares current against the baseline in baselineFile. threshold is in percent.
func AnalyzeRegression(current *Results, baselineFile string, threshold float64) (*RegressionResult, error) {
	baseline, err := LoadBaseline(baselineFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	result := &RegressionResult{
		TestName: current.TestName,
		Baseline: baseline,
		Current:  current,
	}

	if baseline.AvgLatency > 0 {
		change := float64(current.AvgLatency-baseline.AvgLatency) / float64(baseline.AvgLatency) * 100
		result.LatencyRegression = change
		if change > threshold {
			result.SignificantRegression = true
			result.Details = append(result.Details, fmt.Sprintf("Latency regression: %.2f%% (threshold: %.2f%%)", change, threshold))
		}
	}

	if baseline.Throughput > 0 {
		change := (current.Throughput - baseline.Throughput) / baseline.Throughput * 100
		result.ThroughputRegression = change
		if -change > threshold {
			result.SignificantRegression = true
			result.Details = append(result.Details, fmt.Sprintf("Throughput regression: %.2f%% (threshold: %.2f%%)", change, threshold))
		}
	}

	errorRateChange := current.ErrorRate - baseline.ErrorRate
	result.ErrorRateRegression = errorRateChange * 100
	if errorRateChange > threshold/100 {
		result.SignificantRegression = true
		result.Details = append(result.Details, fmt.Sprintf("Error rate increased by %.2f percentage points", errorRateChange*100))
	}

	return result, nil
}

// PrintResults writes a human-readable summary of results to w.
func PrintResults(w io.Writer, results *Results) {
	fmt.Fprintf(w, "\n=== %s Results ===\n", results.TestName)
	fmt.Fprintf(w, "Timestamp: %s\n", results.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %v\n", results.Duration)
	fmt.Fprintf(w, "Round Trips: %d\n", results.TotalRoundTrips)
	fmt.Fprintf(w, "Successful: %d\n", results.SuccessfulTrips)
	fmt.Fprintf(w, "Failed: %d\n", results.FailedTrips)
	fmt.Fprintf(w, "With Secondary Password: %d\n", results.SecondaryTrips)
	fmt.Fprintf(w, "Error Rate: %.2f%%\n", results.ErrorRate*100)
	fmt.Fprintf(w, "Throughput: %.2f trips/s\n", results.Throughput)
	fmt.Fprintf(w, "Latency (avg): %v\n", results.AvgLatency)
	fmt.Fprintf(w, "Latency (p50): %v\n", results.P50Latency)
	fmt.Fprintf(w, "Latency (p95): %v\n", results.P95Latency)
	fmt.Fprintf(w, "Latency (p99): %v\n", results.P99Latency)
	fmt.Fprintf(w, "Min Latency: %v\n", results.MinLatency)
	fmt.Fprintf(w, "Max Latency: %v\n", results.MaxLatency)
	fmt.Fprintf(w, "Bytes Sealed: %d\n", results.TotalBytesSealed)
	fmt.Fprintf(w, "Bytes Opened: %d\n", results.TotalBytesOpened)
}

// PrintRegression writes a human-readable summary of result to w.
func PrintRegression(w io.Writer, result *RegressionResult) {
	fmt.Fprintf(w, "\n=== Regression Analysis for %s ===\n", result.TestName)
	fmt.Fprintf(w, "Significant Regression: %t\n", result.SignificantRegression)
	fmt.Fprintf(w, "Latency Change: %.2f%%\n", result.LatencyRegression)
	fmt.Fprintf(w, "Throughput Change: %.2f%%\n", result.ThroughputRegression)
	fmt.Fprintf(w, "Error Rate Change: %.2f percentage points\n", result.ErrorRateRegression)
	for _, detail := range result.Details {
		fmt.Fprintf(w, "- %s\n", detail)
	}
}
