package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/directory"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/logging"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Pinger is a dependency with a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelLoader reloads and describes the scoring model.
type ModelLoader interface {
	Reload() (classifier.Info, error)
	Info() classifier.Info
}

// DecisionCounter summarizes the transaction log by status.
type DecisionCounter interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// Deps are the handler dependencies. Only Service is required.
type Deps struct {
	Service   *analysis.Service
	Model     ModelLoader
	Directory directory.Directory
	Decisions DecisionCounter
	Repo      Pinger
	Cache     domain.Cache
	Bus       domain.EventBus
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps    Deps
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{deps: deps, version: version}
}

// AnalyzeRequest is the request body for POST /analyze.
// Amount may be a JSON number or a numeric string.
type AnalyzeRequest struct {
	AccountHolder string          `json:"accountHolder"`
	AccountNumber string          `json:"accountNumber"`
	IFSCCode      string          `json:"ifscCode"`
	Country       string          `json:"country,omitempty"`
	Amount        json.RawMessage `json:"amount"`
}

// toDomain converts the wire request, keeping the amount's exact digits.
func (a AnalyzeRequest) toDomain() (domain.TransactionRequest, error) {
	req := domain.TransactionRequest{
		HolderName:    a.AccountHolder,
		AccountNumber: a.AccountNumber,
		RoutingCode:   a.IFSCCode,
		Country:       a.Country,
	}

	raw := bytes.TrimSpace(a.Amount)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		// Left empty for the validator to report.
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &req.Amount); err != nil {
			return req, fmt.Errorf("%w: amount must be a number", domain.ErrInvalidInput)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return req, fmt.Errorf("%w: amount must be a number", domain.ErrInvalidInput)
		}
		req.Amount = n.String()
	}
	return req, nil
}

// ReferenceRequest is the request body for POST /reference-accounts.
type ReferenceRequest struct {
	AccountNumber string `json:"accountNumber"`
	AccountHolder string `json:"accountHolder"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Analyze handles POST /analyze and returns the decision.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyze(w, r)
	if !ok {
		return
	}

	rec, err := h.deps.Service.Analyze(r.Context(), GetCaller(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("X-Transaction-ID", rec.ID)
	writeJSON(w, http.StatusOK, rec.Result)
}

// AnalyzeAsync handles POST /analyze/async.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyze(w, r)
	if !ok {
		return
	}

	id, err := h.deps.Service.Submit(r.Context(), GetCaller(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("X-Transaction-ID", id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "queued",
	})
}

func (h *Handler) decodeAnalyze(w http.ResponseWriter, r *http.Request) (domain.TransactionRequest, bool) {
	var body AnalyzeRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return domain.TransactionRequest{}, false
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, r, err)
		return domain.TransactionRequest{}, false
	}
	return req, true
}

// History handles GET /get-history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Service.History(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HistoryByDate handles GET /get-history-by-date.
func (h *Handler) HistoryByDate(w http.ResponseWriter, r *http.Request) {
	grouped, err := h.deps.Service.HistoryByDate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grouped)
}

// ResetHistory handles POST /reset-history.
func (h *Handler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Service.ResetHistory(r.Context(), GetCaller(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "All history cleared"})
}

// LedgerResponse is the body of GET /ledger.
type LedgerResponse struct {
	ledger.Stats
	Decisions map[domain.Status]int `json:"decisions,omitempty"`
}

// Ledger handles GET /ledger: ledger sizes plus decisions per status.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	resp := LedgerResponse{Stats: h.deps.Service.LedgerStats()}
	if h.deps.Decisions != nil {
		counts, err := h.deps.Decisions.CountByStatus(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Decisions = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

// Model handles GET /model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	if h.deps.Model == nil {
		writeError(w, r, domain.ErrModelUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": h.deps.Service.Ready(),
		"model": h.deps.Model.Info(),
	})
}

// ReloadModel handles POST /model/reload. A failed reload keeps the
// previous model serving.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	if h.deps.Model == nil {
		writeError(w, r, domain.ErrModelUnavailable)
		return
	}

	info, err := h.deps.Model.Reload()
	if err != nil {
		logging.L(r.Context()).Error("model reload failed", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	logging.L(r.Context()).Info("model reloaded",
		"model", info.Name,
		"version", info.Version,
		"terms", info.Terms,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "model reloaded successfully",
		"model":   info,
	})
}

// PutReference handles POST /reference-accounts.
func (h *Handler) PutReference(w http.ResponseWriter, r *http.Request) {
	if h.deps.Directory == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reference directory unavailable"})
		return
	}

	var body ReferenceRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Directory.Put(r.Context(), body.AccountNumber, body.AccountHolder); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "saved",
		"accountNumber": body.AccountNumber,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "healthy"

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	check("repository", h.deps.Repo)
	check("cache", h.deps.Cache)
	check("bus", h.deps.Bus)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether a model is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Service.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidInput)
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrModelUnavailable), errors.Is(err, analysis.ErrAsyncUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as {"error": ...}. Internal failures are logged
// and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.L(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		msg = "An error occurred during analysis"
		if errors.Is(err, domain.ErrStorage) {
			msg = "storage failure"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
