// Replay tool for measuring Kestrel against labelled transactions.
//
// Usage:
//
//	go run ./cmd/replay -csv transactions.csv -url http://localhost:8080
//
// The CSV header is accountHolder,accountNumber,ifscCode,country,amount,is_fraud.
// Each row is posted to /analyze and the verdicts are compared with the
// labels. "declined" counts as a fraud prediction; -review-positive also
// counts "review".
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	csvPath := flag.String("csv", "", "Path to labelled transaction CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	caller := flag.String("caller", "replay", "X-Caller-ID sent with each request")
	limit := flag.Int("limit", 0, "Maximum rows to replay (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent requests")
	reviewPositive := flag.Bool("review-positive", false, "Count review verdicts as fraud predictions")
	reset := flag.Bool("reset", false, "Call POST /reset-history before replaying")
	adminToken := flag.String("admin-token", os.Getenv("KESTREL_ADMIN_TOKEN"), "Admin token for -reset")
	verbose := flag.Bool("verbose", false, "Print each row result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Println("KESTREL REPLAY")
	fmt.Printf("\nCSV File:        %s\n", *csvPath)
	fmt.Printf("Kestrel URL:     %s\n", *baseURL)
	fmt.Printf("Workers:         %d\n", *workers)
	fmt.Printf("Review positive: %v\n", *reviewPositive)
	fmt.Println()

	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	if *reset {
		if err := resetHistory(client, *baseURL, *adminToken); err != nil {
			fmt.Printf("ERROR: reset failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("History reset")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := ReadRows(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fraud := 0
	for _, r := range rows {
		if r.IsFraud {
			fraud++
		}
	}
	fmt.Printf("Loaded %d rows (%d fraud, %d legitimate)\n", len(rows), fraud, len(rows)-fraud)

	rp := &Replayer{
		BaseURL:        *baseURL,
		Caller:         *caller,
		Workers:        *workers,
		ReviewPositive: *reviewPositive,
		Client:         client,
	}
	if *verbose {
		rp.OnResult = func(row Row, resp *AnalyzeResponse, err error) {
			if err != nil {
				fmt.Printf("line %d: ERROR %v\n", row.Line, err)
				return
			}
			mark := "ok "
			if rp.Positive(resp.Status) != row.IsFraud {
				mark = "MISS"
			}
			fmt.Printf("%s line %-5d | %-24.24s | fraud=%-5v | %-8s (%.3f)\n",
				mark, row.Line, row.Request.AccountHolder, row.IsFraud, resp.Status, resp.FraudScore)
		}
	}

	start := time.Now()
	m := rp.Run(ctx, rows)
	printResults(m, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func resetHistory(client *http.Client, baseURL, token string) error {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/reset-history", nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")

	fmt.Printf("\nVerdicts\n")
	fmt.Printf("   Approved:  %d\n", m.Approved.Load())
	fmt.Printf("   Review:    %d\n", m.Review.Load())
	fmt.Printf("   Declined:  %d\n", m.Declined.Load())
	fmt.Printf("   Errors:    %d\n", m.Errors.Load())

	fmt.Printf("\nConfusion matrix\n")
	fmt.Println("                    Predicted")
	fmt.Println("                 fraud      legit")
	fmt.Printf("   Actual fraud  %8d   %8d   (TP, FN)\n", m.TruePositives.Load(), m.FalseNegatives.Load())
	fmt.Printf("          legit  %8d   %8d   (FP, TN)\n", m.FalsePositives.Load(), m.TrueNegatives.Load())

	s := m.Summarize()
	fmt.Printf("\nDetection\n")
	fmt.Printf("   Precision:  %.4f\n", s.Precision)
	fmt.Printf("   Recall:     %.4f\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f\n", s.Accuracy)

	fmt.Printf("\nPerformance\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if n := m.Processed.Load(); n > 0 {
		fmt.Printf("   Avg Latency:     %.2f ms\n", float64(m.LatencyMs.Load())/float64(n))
		fmt.Printf("   Throughput:      %.2f tx/sec\n", float64(n)/duration.Seconds())
	}
	fmt.Println()
}
