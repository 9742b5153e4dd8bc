package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/directory"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ledger"
)

type fakeClassifier struct {
	prob  float64
	ready bool
	err   error
	calls int
}

func (f *fakeClassifier) Score(context.Context, domain.Features) (float64, error) {
	f.calls++
	return f.prob, f.err
}

func (f *fakeClassifier) Ready() bool { return f.ready }

type memoryLog struct {
	mu       sync.Mutex
	records  []*domain.TransactionRecord
	err      error
	clearErr error
}

func (m *memoryLog) Append(_ context.Context, rec *domain.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryLog) List(context.Context) ([]*domain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.TransactionRecord(nil), m.records...), nil
}

func (m *memoryLog) ListByDate(context.Context) (map[string][]*domain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]*domain.TransactionRecord)
	for _, r := range m.records {
		out[r.Date()] = append(out[r.Date()], r)
	}
	return out, nil
}

func (m *memoryLog) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.records = nil
	return nil
}

type fixture struct {
	svc    *Service
	ledger *ledger.Ledger
	model  *fakeClassifier
	log    *memoryLog
	bus    *bus.ChannelBus
}

func newFixture(t *testing.T, prob float64) *fixture {
	t.Helper()
	l := ledger.New(domain.DefaultHighRiskCountries, ledger.WithMatcher(features.MatchVariant))
	model := &fakeClassifier{prob: prob, ready: true}
	log := &memoryLog{}
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	svc := NewService(Deps{
		Ledger:     l,
		Extractor:  features.NewExtractor(l, directory.NewStatic(directory.DemoAccounts), features.DefaultVeryHighAmount),
		Classifier: model,
		Processor:  decision.NewProcessor(),
		Log:        log,
		Bus:        b,
	})
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, ledger: l, model: model, log: log, bus: b}
}

func request(holder, account string, amount string) domain.TransactionRequest {
	return domain.TransactionRequest{
		HolderName:    holder,
		AccountNumber: account,
		RoutingCode:   "SBIN0001234",
		Country:       "IN",
		Amount:        amount,
	}
}

func TestAnalyzeVerifiedApproves(t *testing.T) {
	f := newFixture(t, 0.05)
	ctx := context.Background()

	rec, err := f.svc.Analyze(ctx, "tester", request("Chandu", "987654321012", "2500"))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "tester", rec.Caller)
	assert.Equal(t, domain.StatusApproved, rec.Result.Status)
	assert.Equal(t, 0.05, rec.Result.FraudScore)
	assert.NotEmpty(t, rec.Result.Reason)
	assert.Len(t, rec.Result.RiskFactors, 9)

	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.ID, history[0].ID)

	byDate, err := f.svc.HistoryByDate(ctx)
	require.NoError(t, err)
	assert.Len(t, byDate["2025-03-01"], 1)
}

func TestAnalyzeDuplicateAccountsDecline(t *testing.T) {
	f := newFixture(t, 0.01)
	ctx := context.Background()

	_, err := f.svc.Analyze(ctx, "", request("chandu", "987654321012", "100"))
	require.NoError(t, err)

	rec, err := f.svc.Analyze(ctx, "", request("chandu", "555566667777", "100"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, rec.Result.Status)
	assert.Contains(t, rec.Result.Reason, "multiple accounts")

	t.Run("ResetClearsDuplicate", func(t *testing.T) {
		require.NoError(t, f.svc.ResetHistory(ctx, "admin"))
		assert.Equal(t, ledger.Stats{}, f.svc.LedgerStats())

		history, _ := f.svc.History(ctx)
		assert.Empty(t, history)

		rec, err := f.svc.Analyze(ctx, "", request("chandu", "555566667777", "100"))
		require.NoError(t, err)
		assert.NotEqual(t, domain.StatusDeclined, rec.Result.Status)
	})
}

func TestAnalyzeRecordsRawInput(t *testing.T) {
	f := newFixture(t, 0.05)
	ctx := context.Background()

	req := request("  Chandu ", " 987654321012", "2500")
	req.Country = ""
	rec, err := f.svc.Analyze(ctx, "", req)
	require.NoError(t, err)

	assert.Equal(t, req, rec.Input)
	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "  Chandu ", history[0].Input.HolderName)
	assert.Empty(t, history[0].Input.Country)

	// Normalization still drives the decision.
	assert.Equal(t, domain.StatusApproved, rec.Result.Status)
}

func TestResetHistoryLogFailure(t *testing.T) {
	f := newFixture(t, 0.05)
	ctx := context.Background()

	_, err := f.svc.Analyze(ctx, "", request("chandu", "987654321012", "100"))
	require.NoError(t, err)

	f.log.clearErr = fmt.Errorf("%w: disk full", domain.ErrStorage)
	err = f.svc.ResetHistory(ctx, "admin")
	require.ErrorIs(t, err, domain.ErrStorage)

	// The ledger is cleared first; the records survive the failed clear.
	assert.Equal(t, ledger.Stats{}, f.svc.LedgerStats())
	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAnalyzeIdempotentRepeat(t *testing.T) {
	f := newFixture(t, 0.05)
	ctx := context.Background()
	req := request("John Doe", "111122223333", "900")

	first, err := f.svc.Analyze(ctx, "", req)
	require.NoError(t, err)
	second, err := f.svc.Analyze(ctx, "", req)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, first.Result.Status)
	assert.Equal(t, first.Result.Status, second.Result.Status)
	assert.Equal(t, first.Result.Reason, second.Result.Reason)
	assert.Equal(t, ledger.Stats{Accounts: 1, Holders: 1, Names: 1}, f.svc.LedgerStats())
}

func TestAnalyzeNameVariationReview(t *testing.T) {
	f := newFixture(t, 0.01)
	ctx := context.Background()

	_, err := f.svc.Analyze(ctx, "", request("John Smith", "123412341234", "100"))
	require.NoError(t, err)

	rec, err := f.svc.Analyze(ctx, "", request("Jon Smith", "432143214321", "100"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReview, rec.Result.Status)
	assert.Contains(t, rec.Result.Reason, "john smith")
}

func TestAnalyzeInconsistentHolderDeclines(t *testing.T) {
	f := newFixture(t, 0.01)
	ctx := context.Background()

	// The account is registered to john doe, so the second request verifies.
	first, err := f.svc.Analyze(ctx, "", request("ravi kumar", "111122223333", "100"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReview, first.Result.Status)

	rec, err := f.svc.Analyze(ctx, "", request("John Doe", "111122223333", "100"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, rec.Result.Status)
	assert.Contains(t, rec.Result.Reason, "'ravi kumar'")
}

func TestAnalyzeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("ModelNotReady", func(t *testing.T) {
		f := newFixture(t, 0.1)
		f.model.ready = false

		_, err := f.svc.Analyze(ctx, "", request("chandu", "987654321012", "1"))
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
		assert.Equal(t, ledger.Stats{}, f.svc.LedgerStats(), "ledger must be untouched")
		assert.Zero(t, f.model.calls)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		f := newFixture(t, 0.1)
		_, err := f.svc.Analyze(ctx, "", request("", "987654321012", "1"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, ledger.Stats{}, f.svc.LedgerStats())
	})

	t.Run("ScoreFailure", func(t *testing.T) {
		f := newFixture(t, 0)
		f.model.err = errors.New("eval failed")
		_, err := f.svc.Analyze(ctx, "", request("chandu", "987654321012", "1"))
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
		assert.Empty(t, f.log.records)
	})

	t.Run("ScoreOutOfRange", func(t *testing.T) {
		for _, p := range []float64{-0.1, 1.5, math.NaN()} {
			f := newFixture(t, p)
			_, err := f.svc.Analyze(ctx, "", request("chandu", "987654321012", "1"))
			assert.ErrorIs(t, err, domain.ErrModelUnavailable, "prob %v", p)
		}
	})

	t.Run("AppendFailure", func(t *testing.T) {
		f := newFixture(t, 0.1)
		f.log.err = errors.New("disk full")
		_, err := f.svc.Analyze(ctx, "", request("chandu", "987654321012", "1"))
		assert.ErrorIs(t, err, domain.ErrStorage)
	})
}

func TestAnalyzePublishesEvents(t *testing.T) {
	f := newFixture(t, 0.9)
	ctx := context.Background()

	decisions := make(chan *domain.Message, 1)
	alerts := make(chan *domain.Message, 1)
	_, err := f.bus.Subscribe(ctx, domain.TopicDecision, func(_ context.Context, m *domain.Message) error {
		decisions <- m
		return nil
	})
	require.NoError(t, err)
	_, err = f.bus.Subscribe(ctx, domain.TopicAlert, func(_ context.Context, m *domain.Message) error {
		alerts <- m
		return nil
	})
	require.NoError(t, err)

	rec, err := f.svc.Analyze(ctx, "svc-a", request("chandu", "987654321012", "1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusDeclined, rec.Result.Status)

	for _, ch := range []chan *domain.Message{decisions, alerts} {
		select {
		case m := <-ch:
			var ev domain.DecisionEvent
			require.NoError(t, json.Unmarshal(m.Payload, &ev))
			assert.Equal(t, rec.ID, ev.ID)
			assert.Equal(t, "svc-a", ev.Caller)
			assert.Equal(t, decision.RuleBaselineDecline, ev.Rule)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("Queues", func(t *testing.T) {
		f := newFixture(t, 0.1)
		got := make(chan *domain.Message, 1)
		_, _ = f.bus.Subscribe(ctx, domain.TopicTransactionSubmitted, func(_ context.Context, m *domain.Message) error {
			got <- m
			return nil
		})

		id, err := f.svc.Submit(ctx, "svc-b", request(" chandu ", "987654321012", "10"))
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		select {
		case m := <-got:
			var sub domain.Submission
			require.NoError(t, json.Unmarshal(m.Payload, &sub))
			assert.Equal(t, id, sub.ID)
			assert.Equal(t, "svc-b", sub.Caller)
			assert.Equal(t, " chandu ", sub.Request.HolderName, "submissions carry the raw request")

			rec, err := f.svc.AnalyzeSubmission(ctx, sub)
			require.NoError(t, err)
			assert.Equal(t, id, rec.ID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for submission")
		}
		assert.Equal(t, 1, f.svc.LedgerStats().Accounts)
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		f := newFixture(t, 0.1)
		_, err := f.svc.Submit(ctx, "", request("chandu", "987654321012", "abc"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("NoBus", func(t *testing.T) {
		f := newFixture(t, 0.1)
		f.svc.bus = nil
		_, err := f.svc.Submit(ctx, "", request("chandu", "987654321012", "1"))
		assert.ErrorIs(t, err, ErrAsyncUnavailable)

		// Synchronous analysis still works without a bus.
		_, err = f.svc.Analyze(ctx, "", request("chandu", "987654321012", "1"))
		assert.NoError(t, err)
	})
}

func TestAnalyzeConcurrentDuplicateDetection(t *testing.T) {
	f := newFixture(t, 0.01)
	ctx := context.Background()

	accounts := []string{"700000000001", "700000000002", "700000000003", "700000000004"}
	var wg sync.WaitGroup
	results := make([]*domain.TransactionRecord, len(accounts))
	for i, acct := range accounts {
		i, acct := i, acct
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.svc.Analyze(ctx, "", request("meera iyer", acct, "10"))
			if err == nil {
				results[i] = rec
			}
		}()
	}
	wg.Wait()

	declined := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Result.Status == domain.StatusDeclined {
			declined++
		}
	}
	// Exactly one request registers the holder first; every other one sees it.
	assert.Equal(t, len(accounts)-1, declined)
}
