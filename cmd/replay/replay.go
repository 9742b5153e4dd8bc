package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Row is one labelled transaction from the replay CSV.
type Row struct {
	Line    int
	Request AnalyzeRequest
	IsFraud bool
}

// AnalyzeRequest is the POST /analyze body.
type AnalyzeRequest struct {
	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber"`
	IFSCCode      string `json:"ifscCode"`
	Country       string `json:"country,omitempty"`
	Amount        string `json:"amount"`
}

// AnalyzeResponse is the subset of the decision the replay needs.
type AnalyzeResponse struct {
	FraudScore float64 `json:"fraudScore"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason"`
}

var requiredColumns = []string{"accountholder", "accountnumber", "ifsccode", "amount", "is_fraud"}

// ReadRows parses the replay CSV. Header names are case-insensitive and the
// country column is optional. Rows with the wrong field count are skipped.
func ReadRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	countryCol, hasCountry := col["country"]

	var rows []Row
	line := 1
	for {
		rec, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(rec) != len(header) {
			continue
		}

		row := Row{
			Line: line,
			Request: AnalyzeRequest{
				AccountHolder: rec[col["accountholder"]],
				AccountNumber: rec[col["accountnumber"]],
				IFSCCode:      rec[col["ifsccode"]],
				Amount:        strings.TrimSpace(rec[col["amount"]]),
			},
			IsFraud: isTrue(rec[col["is_fraud"]]),
		}
		if hasCountry {
			row.Request.Country = rec[countryCol]
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  atomic.Int64
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64

	Approved atomic.Int64
	Review   atomic.Int64
	Declined atomic.Int64

	Processed atomic.Int64
	Errors    atomic.Int64
	LatencyMs atomic.Int64
}

// Record adds one verdict. predicted is whether the verdict counts as fraud.
func (m *Metrics) Record(status string, predicted, actual bool) {
	switch status {
	case "approved":
		m.Approved.Add(1)
	case "review":
		m.Review.Add(1)
	case "declined":
		m.Declined.Add(1)
	}

	switch {
	case predicted && actual:
		m.TruePositives.Add(1)
	case predicted && !actual:
		m.FalsePositives.Add(1)
	case !predicted && !actual:
		m.TrueNegatives.Add(1)
	default:
		m.FalseNegatives.Add(1)
	}
}

// Summary holds the derived detection metrics.
type Summary struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

// Summarize computes precision, recall, F1 and accuracy.
func (m *Metrics) Summarize() Summary {
	tp := float64(m.TruePositives.Load())
	fp := float64(m.FalsePositives.Load())
	tn := float64(m.TrueNegatives.Load())
	fn := float64(m.FalseNegatives.Load())

	var s Summary
	if tp+fp > 0 {
		s.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		s.Recall = tp / (tp + fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		s.Accuracy = (tp + tn) / total
	}
	return s
}

// Replayer posts rows to a running service.
type Replayer struct {
	BaseURL        string
	Caller         string
	Workers        int
	ReviewPositive bool
	Client         *http.Client

	// OnResult is called for each completed row when set.
	OnResult func(Row, *AnalyzeResponse, error)
}

// Positive reports whether status counts as a fraud prediction.
func (r *Replayer) Positive(status string) bool {
	return status == "declined" || (r.ReviewPositive && status == "review")
}

// Run replays rows with bounded concurrency.
func (r *Replayer) Run(ctx context.Context, rows []Row) *Metrics {
	m := &Metrics{}
	work := make(chan Row)
	var wg sync.WaitGroup

	workers := max(r.Workers, 1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				start := time.Now()
				resp, err := r.analyze(ctx, row.Request)
				m.LatencyMs.Add(time.Since(start).Milliseconds())
				m.Processed.Add(1)

				if err != nil {
					m.Errors.Add(1)
				} else {
					m.Record(resp.Status, r.Positive(resp.Status), row.IsFraud)
				}
				if r.OnResult != nil {
					r.OnResult(row, resp, err)
				}
			}
		}()
	}

feed:
	for _, row := range rows {
		select {
		case work <- row:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	return m
}

func (r *Replayer) analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.Caller != "" {
		httpReq.Header.Set("X-Caller-ID", r.Caller)
	}

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
