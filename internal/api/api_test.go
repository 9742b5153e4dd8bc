package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/directory"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const testAdminToken = "admin-secret"

type testEnv struct {
	server *Server
	model  *classifier.Scorecard
}

// newTestEnv wires the real pipeline over an in-memory SQLite database.
func newTestEnv(t *testing.T, sec domain.SecurityConfig, withBus bool) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	model, err := classifier.New("")
	if err != nil {
		t.Fatalf("failed to create classifier: %v", err)
	}
	if _, err := model.Reload(); err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	var eventBus domain.EventBus
	if withBus {
		b := bus.NewChannelBus(100)
		t.Cleanup(func() { b.Close() })
		eventBus = b
	}

	c := cache.NewLRUCache(100)
	dir := directory.NewCached(directory.NewStatic(directory.DemoAccounts), c, 0)
	l := ledger.New(domain.DefaultHighRiskCountries, ledger.WithMatcher(features.MatchVariant))

	svc := analysis.NewService(analysis.Deps{
		Ledger:     l,
		Extractor:  features.NewExtractor(l, dir, features.DefaultVeryHighAmount),
		Classifier: model,
		Processor:  decision.NewProcessor(),
		Log:        repo,
		Bus:        eventBus,
	})

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	server := NewServer(cfg, sec, Deps{
		Service:   svc,
		Model:     model,
		Directory: dir,
		Decisions: repo,
		Repo:      repo,
		Cache:     c,
		Bus:       eventBus,
	}, "test-v1")

	return &testEnv{server: server, model: model}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

const legitBody = `{"accountHolder":"Chandu","accountNumber":"987654321012","ifscCode":"SBIN0001234","country":"IN","amount":2500}`

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{}, false)

	t.Run("SuccessfulAnalysis", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/analyze", legitBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Transaction-ID") == "" {
			t.Error("expected X-Transaction-ID header")
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}

		var resp domain.Decision
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Status != domain.StatusApproved {
			t.Errorf("expected approved, got %s (%s)", resp.Status, resp.Reason)
		}
		if resp.FraudScore <= 0 || resp.FraudScore >= 0.4 {
			t.Errorf("unexpected fraud score %v", resp.FraudScore)
		}
		if len(resp.RiskFactors) != 9 {
			t.Errorf("expected 9 risk factors, got %d", len(resp.RiskFactors))
		}
	})

	t.Run("ExactShape", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/analyze", legitBody)
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		for _, key := range []string{"fraudScore", "status", "reason", "riskFactors"} {
			if _, ok := raw[key]; !ok {
				t.Errorf("missing key %s", key)
			}
		}
		if len(raw) != 4 {
			t.Errorf("expected exactly 4 keys, got %d", len(raw))
		}

		var factors []map[string]string
		_ = json.Unmarshal(raw["riskFactors"], &factors)
		if factors[0]["risk"] != "Low" || factors[0]["factor"] != decision.FactorModel {
			t.Errorf("unexpected first factor %v", factors[0])
		}
	})

	t.Run("StringAmount", func(t *testing.T) {
		body := strings.Replace(legitBody, `"amount":2500`, `"amount":"2500.50"`, 1)
		rr := env.do(t, http.MethodPost, "/analyze", body)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("DuplicateAccountDeclines", func(t *testing.T) {
		body := strings.Replace(legitBody, "987654321012", "135792468013", 1)
		rr := env.do(t, http.MethodPost, "/analyze", body)
		var resp domain.Decision
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Status != domain.StatusDeclined {
			t.Errorf("expected declined, got %s", resp.Status)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/analyze", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingHolder", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/analyze", `{"accountNumber":"1","ifscCode":"SBIN0001234","amount":1}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "accountHolder is required") {
			t.Errorf("unexpected body %s", rr.Body.String())
		}
	})

	t.Run("BadAmount", func(t *testing.T) {
		for _, amount := range []string{`true`, `"abc"`, `-5`, `null`, `1e400`, `"1e10000000"`} {
			body := strings.Replace(legitBody, `2500`, amount, 1)
			rr := env.do(t, http.MethodPost, "/analyze", body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("amount %s: expected status 400, got %d", amount, rr.Code)
			}
		}
	})
}

func TestModelUnavailable(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{}, false)

	// Replace the loaded scorecard with an empty one.
	empty, _ := classifier.New("")
	env.server.handler.deps.Service = analysis.NewService(analysis.Deps{
		Ledger:     ledger.New(nil),
		Classifier: empty,
	})

	rr := env.do(t, http.MethodPost, "/analyze", legitBody)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected /ready 503, got %d", rr.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{AdminToken: testAdminToken}, false)

	rr := env.do(t, http.MethodGet, "/get-history", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty history, got %d %s", rr.Code, rr.Body.String())
	}

	env.do(t, http.MethodPost, "/analyze", legitBody, CallerHeader, "dashboard")
	env.do(t, http.MethodPost, "/analyze", legitBody, CallerHeader, "dashboard")

	rr = env.do(t, http.MethodGet, "/get-history", "")
	var history []domain.TransactionRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("failed to parse history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history))
	}
	if history[0].Caller != "dashboard" || history[0].Input.HolderName != "Chandu" {
		t.Errorf("unexpected record %+v", history[0])
	}

	rr = env.do(t, http.MethodGet, "/get-history-by-date", "")
	var byDate map[string][]domain.TransactionRecord
	_ = json.Unmarshal(rr.Body.Bytes(), &byDate)
	if len(byDate) != 1 || len(byDate[history[0].Date()]) != 2 {
		t.Errorf("unexpected grouping %v", byDate)
	}

	rr = env.do(t, http.MethodGet, "/ledger", "")
	var summary LedgerResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &summary)
	if summary.Stats != (ledger.Stats{Accounts: 1, Holders: 1, Names: 1}) {
		t.Errorf("unexpected ledger stats %+v", summary.Stats)
	}
	if summary.Decisions[domain.StatusApproved] != 2 || len(summary.Decisions) != 1 {
		t.Errorf("expected two approved decisions, got %v", summary.Decisions)
	}

	t.Run("ResetRequiresAdmin", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/reset-history", "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
		rr = env.do(t, http.MethodPost, "/reset-history", "", "Authorization", "Bearer wrong")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/reset-history", "", "Authorization", "Bearer "+testAdminToken)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"All history cleared"`) {
			t.Errorf("unexpected body %s", rr.Body.String())
		}

		rr = env.do(t, http.MethodGet, "/get-history", "")
		if strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Errorf("expected empty history after reset, got %s", rr.Body.String())
		}
		rr = env.do(t, http.MethodGet, "/ledger", "")
		var after LedgerResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &after)
		if after.Stats != (ledger.Stats{}) || len(after.Decisions) != 0 {
			t.Errorf("expected empty ledger and log, got %+v", after)
		}
	})
}

func TestAsyncEndpoint(t *testing.T) {
	t.Run("Queued", func(t *testing.T) {
		env := newTestEnv(t, domain.SecurityConfig{}, true)
		rr := env.do(t, http.MethodPost, "/analyze/async", legitBody)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["id"] == "" || resp["status"] != "queued" {
			t.Errorf("unexpected response %v", resp)
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		env := newTestEnv(t, domain.SecurityConfig{}, false)
		rr := env.do(t, http.MethodPost, "/analyze/async", legitBody)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{}, false)

	rr := env.do(t, http.MethodGet, "/model", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"name":"kestrel-baseline"`) {
		t.Errorf("unexpected /model response %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/model/reload", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestReferenceAccounts(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{}, false)

	rr := env.do(t, http.MethodPost, "/reference-accounts", `{"accountNumber":"246813579024","accountHolder":"ravi kumar"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := `{"accountHolder":"Ravi Kumar","accountNumber":"246813579024","ifscCode":"HDFC0001234","amount":100}`
	rr = env.do(t, http.MethodPost, "/analyze", body)
	var resp domain.Decision
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.RiskFactors[1].Comment != "Name verified" {
		t.Errorf("expected verified name, got %q", resp.RiskFactors[1].Comment)
	}

	rr = env.do(t, http.MethodPost, "/reference-accounts", `{"accountNumber":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{RateLimitPerMinute: 2}, false)

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodGet, "/ledger", "", CallerHeader, "burst")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := env.do(t, http.MethodGet, "/ledger", "", CallerHeader, "burst")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Other callers have their own window.
	rr = env.do(t, http.MethodGet, "/ledger", "", CallerHeader, "other")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 for another caller, got %d", rr.Code)
	}

	// Health checks are never limited.
	for i := 0; i < 5; i++ {
		if rr := env.do(t, http.MethodGet, "/health", "", CallerHeader, "burst"); rr.Code != http.StatusOK {
			t.Errorf("expected /health 200, got %d", rr.Code)
		}
	}
}

func TestCallerMiddleware(t *testing.T) {
	var got string
	h := CallerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetCaller(r.Context())
	}))

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"Header", map[string]string{CallerHeader: "svc-a"}, "svc-a"},
		{"Anonymous", nil, AnonymousCaller},
		{"HeaderWins", map[string]string{CallerHeader: "svc-b", "Authorization": "Bearer abc"}, "svc-b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}

	t.Run("BearerFingerprint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if !strings.HasPrefix(got, "token:") || strings.Contains(got, "abc") {
			t.Errorf("expected a token fingerprint, got %q", got)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{}, true)

	rr := env.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "healthy" || resp.Version != "test-v1" {
		t.Errorf("unexpected health %+v", resp)
	}
	if resp.Checks["repository"] != "ok" || resp.Checks["bus"] != "ok" {
		t.Errorf("unexpected checks %v", resp.Checks)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Run("AnyOriginWithoutCredentials", func(t *testing.T) {
		env := newTestEnv(t, domain.SecurityConfig{}, false)
		rr := env.do(t, http.MethodOptions, "/analyze", "", "Origin", "http://127.0.0.1:5500")
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected wildcard origin, got %q", got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
			t.Errorf("credentials must not be allowed, got %q", got)
		}
	})

	t.Run("ConfiguredOrigins", func(t *testing.T) {
		sec := domain.SecurityConfig{AllowedOrigins: []string{"https://dash.example.com/"}}
		env := newTestEnv(t, sec, false)

		rr := env.do(t, http.MethodOptions, "/analyze", "", "Origin", "https://dash.example.com")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
			t.Errorf("expected listed origin echoed, got %q", got)
		}
		if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Error("credentials must not be allowed")
		}

		rr = env.do(t, http.MethodOptions, "/analyze", "", "Origin", "https://evil.example.com")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin must not be allowed, got %q", got)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.SecurityConfig{}, false)
	env.do(t, http.MethodPost, "/analyze", legitBody)

	rr := env.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "kestrel_decisions_total") {
		t.Error("expected kestrel_decisions_total in metrics output")
	}
}
