// Package analysis runs one transaction through feature extraction,
// scoring and the decision overlay, and keeps the decision history.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/traces"
)

// ErrAsyncUnavailable is returned by Submit when no event bus is configured.
var ErrAsyncUnavailable = errors.New("async analysis unavailable")

// Deps are the collaborators of a Service. Bus may be nil.
type Deps struct {
	Ledger     *ledger.Ledger
	Extractor  *features.Extractor
	Classifier domain.Classifier
	Processor  *decision.Processor
	Log        domain.TransactionLog
	Bus        domain.EventBus
}

// Service is the analysis pipeline shared by the HTTP API and the worker.
type Service struct {
	ledger     *ledger.Ledger
	extractor  *features.Extractor
	classifier domain.Classifier
	processor  *decision.Processor
	log        domain.TransactionLog
	bus        domain.EventBus

	now   func() time.Time
	newID func() string
}

// NewService creates a service.
func NewService(d Deps) *Service {
	return &Service{
		ledger:     d.Ledger,
		extractor:  d.Extractor,
		classifier: d.Classifier,
		processor:  d.Processor,
		log:        d.Log,
		bus:        d.Bus,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// Analyze scores req and records the decision under a new transaction ID.
func (s *Service) Analyze(ctx context.Context, caller string, req domain.TransactionRequest) (*domain.TransactionRecord, error) {
	return s.analyze(ctx, s.newID(), caller, req)
}

// AnalyzeSubmission scores a submission received from the bus, keeping
// the ID assigned at submit time.
func (s *Service) AnalyzeSubmission(ctx context.Context, sub domain.Submission) (*domain.TransactionRecord, error) {
	id := sub.ID
	if id == "" {
		id = s.newID()
	}
	return s.analyze(ctx, id, sub.Caller, sub.Request)
}

// Submit validates req and queues it for asynchronous analysis.
func (s *Service) Submit(ctx context.Context, caller string, req domain.TransactionRequest) (string, error) {
	if s.bus == nil {
		return "", ErrAsyncUnavailable
	}

	if _, _, err := s.extractor.Check(req); err != nil {
		return "", err
	}

	sub := domain.Submission{ID: s.newID(), Caller: caller, Request: req}
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}
	if err := s.bus.Publish(ctx, domain.TopicTransactionSubmitted, payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAsyncUnavailable, err)
	}

	logging.L(ctx).Info("transaction submitted", "tx_id", sub.ID, "caller", caller)
	return sub.ID, nil
}

func (s *Service) analyze(ctx context.Context, id, caller string, req domain.TransactionRequest) (_ *domain.TransactionRecord, err error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "analysis.Analyze", traces.TxID(id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.AnalysisErrorsTotal.WithLabelValues(errorKind(err)).Inc()
			logging.L(ctx).Warn("analysis failed", "tx_id", id, "error", err)
		}
		span.End()
	}()

	// A missing model fails the request before the ledger is touched.
	if !s.classifier.Ready() {
		return nil, fmt.Errorf("%w: no model loaded", domain.ErrModelUnavailable)
	}

	signals, err := s.extractor.Extract(ctx, req)
	if err != nil {
		return nil, err
	}
	s.reportLedger()

	prob, err := s.classifier.Score(ctx, signals.Features)
	if err != nil {
		if !errors.Is(err, domain.ErrModelUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
		}
		return nil, err
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return nil, fmt.Errorf("%w: score %v out of range", domain.ErrModelUnavailable, prob)
	}

	dec, rule := s.processor.Decide(prob, signals)

	rec := &domain.TransactionRecord{
		ID:        id,
		Timestamp: s.now(),
		Caller:    caller,
		Input:     req,
		Result:    *dec,
	}
	if err := s.log.Append(ctx, rec); err != nil {
		if !errors.Is(err, domain.ErrStorage) {
			err = fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		return nil, err
	}

	span.SetAttributes(traces.Status(dec.Status), traces.Rule(rule), traces.Score(prob))
	metrics.DecisionsTotal.WithLabelValues(string(dec.Status)).Inc()
	metrics.RulesFiredTotal.WithLabelValues(rule).Inc()
	metrics.FraudScore.Observe(prob)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	s.publish(ctx, rec, rule)

	logging.L(ctx).Info("transaction analyzed",
		"tx_id", id,
		"caller", caller,
		"status", dec.Status,
		"fraud_score", prob,
		"rule", rule,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

// publish emits the decision event, plus an alert for anything not approved.
// Failures are logged only.
func (s *Service) publish(ctx context.Context, rec *domain.TransactionRecord, rule string) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.DecisionEvent{
		ID:        rec.ID,
		Caller:    rec.Caller,
		Timestamp: rec.Timestamp.Format(time.RFC3339Nano),
		Rule:      rule,
		Decision:  rec.Result,
	})
	if err != nil {
		logging.L(ctx).Error("failed to marshal decision event", "tx_id", rec.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		logging.L(ctx).Error("failed to publish decision", "tx_id", rec.ID, "error", err)
	}
	if rec.Result.Status != domain.StatusApproved {
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			logging.L(ctx).Error("failed to publish alert", "tx_id", rec.ID, "error", err)
		}
	}
}

// History returns every record in insertion order.
func (s *Service) History(ctx context.Context) ([]*domain.TransactionRecord, error) {
	return s.log.List(ctx)
}

// HistoryByDate groups records by UTC date.
func (s *Service) HistoryByDate(ctx context.Context) (map[string][]*domain.TransactionRecord, error) {
	return s.log.ListByDate(ctx)
}

// ResetHistory clears the ledger, then the transaction log, on behalf of caller.
// A failed log clear leaves the ledger empty and the records in place.
func (s *Service) ResetHistory(ctx context.Context, caller string) error {
	if err := s.ledger.Reset(ctx); err != nil {
		return err
	}
	s.reportLedger()

	if err := s.log.Clear(ctx); err != nil {
		logging.L(ctx).Error("ledger cleared but transaction log was not",
			"caller", caller,
			"error", err,
		)
		return err
	}
	logging.L(ctx).Warn("history cleared", "caller", caller)
	return nil
}

// LedgerStats returns the current ledger sizes.
func (s *Service) LedgerStats() ledger.Stats {
	return s.ledger.Stats()
}

// Ready reports whether the classifier can score.
func (s *Service) Ready() bool {
	return s.classifier.Ready()
}

func (s *Service) reportLedger() {
	st := s.ledger.Stats()
	metrics.SetLedgerSizes(st.Accounts, st.Holders, st.Names)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
