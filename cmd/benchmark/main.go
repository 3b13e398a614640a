// Benchmark tool for measuring Ringwatch recall and latency.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8001 -runs 20
//	go run ./cmd/benchmark -csv /path/to/transactions.csv -runs 5
//
// This tool:
//  1. Generates batches with planted cycles, smurfing hubs and shell chains
//     (or reads a user CSV)
//  2. Posts each batch to POST /analyze
//  3. Compares the flagged accounts with the planted ground truth
//  4. Reports recall, extra flags and latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/generator"
)

// job is one batch to post. Truth is nil for user CSV files.
type job struct {
	name  string
	csv   []byte
	truth *generator.Truth
}

// Metrics tracks benchmark results
type Metrics struct {
	mu        sync.Mutex
	latencies []time.Duration

	Planted      int64 // planted accounts across all generated batches
	Caught       int64 // planted accounts that were flagged
	ExtraFlags   int64 // flagged accounts that were not planted
	RingsFound   int64
	Transactions int64
	Runs         int64
	Errors       int64

	// serverMicros sums processing_time_seconds reported by the server
	serverMicros int64
}

func (m *Metrics) addLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8001", "Ringwatch base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	csvPath := flag.String("csv", "", "Post this CSV file instead of generated batches")
	runs := flag.Int("runs", 10, "Number of batches to post")
	workers := flag.Int("workers", 2, "Number of concurrent uploads")
	seed := flag.Int64("seed", 1, "Seed of the first generated batch")
	accounts := flag.Int("accounts", 2000, "Background accounts per generated batch")
	noise := flag.Int("noise", 10000, "Background transactions per generated batch")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          RINGWATCH BENCHMARK - Muling Ring Detection          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nRingwatch URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:     %s\n", *tenantID)
	fmt.Printf("Runs:          %d\n", *runs)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Println()

	// Check Ringwatch is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Ringwatch not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Ringwatch is running:")
		fmt.Println("  go run ./cmd/ringwatch")
		os.Exit(1)
	}
	fmt.Println("✓ Ringwatch is healthy")

	jobs, err := buildJobs(*csvPath, *runs, *seed, *accounts, *noise)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Prepared %d batches\n", len(jobs))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(jobs, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func buildJobs(csvPath string, runs int, seed int64, accounts, noise int) ([]job, error) {
	if csvPath != "" {
		data, err := os.ReadFile(csvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		jobs := make([]job, runs)
		for i := range jobs {
			jobs[i] = job{name: filepath.Base(csvPath), csv: data}
		}
		return jobs, nil
	}

	cfg := generator.DefaultConfig()
	cfg.Accounts = accounts
	cfg.NoiseTransactions = noise

	jobs := make([]job, 0, runs)
	for i := 0; i < runs; i++ {
		batch := generator.New(seed+int64(i), cfg).Batch()
		var buf bytes.Buffer
		if err := generator.WriteCSV(&buf, batch.Transactions); err != nil {
			return nil, fmt.Errorf("failed to encode batch %d: %w", i, err)
		}
		truth := batch.Truth
		jobs = append(jobs, job{
			name:  fmt.Sprintf("seed-%d", seed+int64(i)),
			csv:   buf.Bytes(),
			truth: &truth,
		})
	}
	return jobs, nil
}

func runBenchmark(jobs []job, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan job)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Minute}

			for j := range work {
				start := time.Now()
				report, err := analyze(client, baseURL, tenantID, j)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.Runs, 1)
				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", j.name, err)
					}
					continue
				}
				metrics.addLatency(elapsed)
				atomic.AddInt64(&metrics.Transactions, int64(report.Metadata.TransactionCount))
				atomic.AddInt64(&metrics.RingsFound, int64(report.Summary.FraudRingsDetected))
				atomic.AddInt64(&metrics.serverMicros, int64(report.Summary.ProcessingTimeSeconds*1e6))

				caught, planted, extra := score(report, j.truth)
				atomic.AddInt64(&metrics.Caught, int64(caught))
				atomic.AddInt64(&metrics.Planted, int64(planted))
				atomic.AddInt64(&metrics.ExtraFlags, int64(extra))

				if verbose {
					fmt.Printf("%-12s | tx: %7d | flagged: %5d | rings: %5d | caught: %3d/%-3d | %v\n",
						j.name,
						report.Metadata.TransactionCount,
						report.Summary.SuspiciousAccountsFlagged,
						report.Summary.FraudRingsDetected,
						caught, planted,
						elapsed.Round(time.Millisecond),
					)
				}
			}
		}()
	}

	// Send work
	for _, j := range jobs {
		work <- j
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// score compares the flagged accounts with the planted truth.
func score(report *domain.Report, truth *generator.Truth) (caught, planted, extra int) {
	if truth == nil {
		return 0, 0, 0
	}
	flagged := make(map[string]bool, len(report.SuspiciousAccounts))
	for _, sa := range report.SuspiciousAccounts {
		flagged[sa.AccountID] = true
	}
	want := truth.Accounts()
	for _, account := range want {
		if flagged[account] {
			caught++
			delete(flagged, account)
		}
	}
	return caught, len(want), len(flagged)
}

func analyze(client *http.Client, baseURL, tenantID string, j job) (*domain.Report, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", j.name+".csv")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(j.csv); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report domain.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Batches:          %d\n", m.Runs)
	fmt.Printf("   Transactions:     %d\n", m.Transactions)
	fmt.Printf("   Rings Reported:   %d\n", m.RingsFound)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	if m.Planted > 0 {
		recall := float64(m.Caught) / float64(m.Planted)
		fmt.Printf("\n🎯 DETECTION METRICS\n")
		fmt.Printf("   Planted Accounts: %d\n", m.Planted)
		fmt.Printf("   Caught:           %d\n", m.Caught)
		fmt.Printf("   Recall:           %.4f\n", recall)
		fmt.Printf("   Extra Flags:      %d  (background accounts flagged)\n", m.ExtraFlags)
	}

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := len(m.latencies); n > 0 {
		fmt.Printf("   p50 Latency:      %v\n", percentile(m.latencies, 0.50).Round(time.Millisecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(m.latencies, 0.95).Round(time.Millisecond))
		fmt.Printf("   Max Latency:      %v\n", m.latencies[n-1].Round(time.Millisecond))
		fmt.Printf("   Avg Server Time:  %.4f s\n", float64(m.serverMicros)/1e6/float64(n))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.Transactions)/duration.Seconds())
	}

	fmt.Println()
}
