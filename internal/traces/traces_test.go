package traces

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestInitDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, cfg := range []domain.TracingConfig{
		{Enabled: false, Endpoint: "localhost:4317"},
		{Enabled: true, Endpoint: ""},
	} {
		shutdown, err := Init(context.Background(), cfg, "test", logger)
		if err != nil {
			t.Fatalf("Init(%+v) failed: %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("no-op shutdown returned %v", err)
		}
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "analysis", TxID("tx-1"), Score(0.5))
	defer span.End()
	if ctx == nil {
		t.Fatal("expected a context")
	}
}
