package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeverityJSON(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Severity
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Errorf("expected %v, got %v", s, back)
		}
	}

	var s Severity
	if err := json.Unmarshal([]byte(`"Severe"`), &s); err == nil {
		t.Error("expected error for unknown severity name")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Error("severities must be ordered Low < Medium < High < Critical")
	}
}

func TestDecisionShape(t *testing.T) {
	d := Decision{
		FraudScore: 0.12,
		Status:     StatusApproved,
		Reason:     "ok",
		RiskFactors: []RiskFactor{
			{Factor: "Geographic Risk", Risk: SeverityLow, Comment: "fine"},
		},
	}
	data, _ := json.Marshal(d)

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"fraudScore", "status", "reason", "riskFactors"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
	factor := raw["riskFactors"].([]any)[0].(map[string]any)
	if factor["risk"] != "Low" {
		t.Errorf("expected risk Low, got %v", factor["risk"])
	}
}

func TestNormalize(t *testing.T) {
	req := TransactionRequest{
		HolderName:    "  John  Doe ",
		AccountNumber: " 111122223333",
		RoutingCode:   "sbin0001234 ",
		Amount:        " 10 ",
	}
	n := req.Normalize()
	if n.HolderName != "John  Doe" {
		t.Errorf("expected trimmed holder, got %q", n.HolderName)
	}
	if n.Country != DefaultCountry {
		t.Errorf("expected default country %s, got %s", DefaultCountry, n.Country)
	}
	if n.Amount != "10" {
		t.Errorf("expected trimmed amount, got %q", n.Amount)
	}
}

func TestRecordDate(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	rec := &TransactionRecord{Timestamp: time.Date(2025, 3, 2, 1, 0, 0, 0, loc)}
	if got := rec.Date(); got != "2025-03-01" {
		t.Errorf("expected UTC date 2025-03-01, got %s", got)
	}
}

func TestTierConfigs(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community defaults: %+v", cfg)
	}
	if cfg.Detection.DeclineThreshold <= cfg.Detection.ReviewThreshold {
		t.Error("decline threshold must exceed review threshold")
	}

	pro := ProConfig()
	if pro.Tier != TierPro || pro.Repository.Driver != "postgres" || !pro.Ledger.Durable {
		t.Errorf("unexpected pro defaults: %+v", pro)
	}
	// DefaultConfig must hand out its own slice.
	cfg.Detection.HighRiskCountries[0] = "XX"
	if DefaultHighRiskCountries[0] == "XX" {
		t.Error("DefaultConfig shares the package high-risk list")
	}
}
