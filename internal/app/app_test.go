package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"InvoiceLedger/internal/config"
)

const referenceYAML = `
approved_vendors:
  - name: Acme Corp
    tax_id: 12-3456789
    credit_limit: 50000
    risk_level: low
    status: approved
    category: supplies
blacklisted_vendors:
  - name: Shady Supplies
    reason: confirmed fraud
default_norm: 20000
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	refPath := filepath.Join(dir, "reference.yaml")
	if err := os.WriteFile(refPath, []byte(referenceYAML), 0o600); err != nil {
		t.Fatalf("write reference: %v", err)
	}
	return config.Config{
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0", RequestTimeout: 5 * time.Second},
		Decision: config.DecisionConfig{ApproveThreshold: 85, RejectThreshold: 30},
		Ledger: config.LedgerConfig{
			AttemptTimeout: 100 * time.Millisecond,
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			CommitCeiling:  500 * time.Millisecond,
		},
		Fallback:  config.FallbackConfig{Path: filepath.Join(dir, "data", "fallback.db")},
		Reconcile: config.ReconcileConfig{Interval: time.Hour, BatchSize: 10},
		Reference: config.ReferenceConfig{Path: refPath},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWiresSubmitEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	today := time.Now().UTC().Format("2006-01-02")
	body := `{"invoice_id":"INV-666","vendor_name":"Shady Supplies","tax_id":"55-5555555","amount":900,"date":"` + today + `"}`
	resp, err := http.Post(srv.URL+"/invoices", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /invoices: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out struct {
		Status   string `json:"status"`
		RiskTier string `json:"risk_tier"`
		Origin   string `json:"origin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "REJECTED" || out.RiskTier != "HIGH" || out.Origin != "LEDGER" {
		t.Fatalf("expected REJECTED/HIGH on LEDGER, got %+v", out)
	}
	if _, err := os.Stat(cfg.Fallback.Path); err != nil {
		t.Fatalf("expected fallback store created: %v", err)
	}
}

func TestRestartRestoresFallbackRecords(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Ledger.Endpoint = "http://127.0.0.1:1"

	first, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(first.Handler())
	today := time.Now().UTC().Format("2006-01-02")
	body := `{"invoice_id":"INV-100","vendor_name":"Acme Corp","tax_id":"12-3456789","amount":1500,"date":"` + today + `"}`
	resp, err := http.Post(srv.URL+"/invoices", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /invoices: %v", err)
	}
	resp.Body.Close()
	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = first.service.Wait(ctx)
	cancel()
	if err := first.close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	t.Cleanup(func() { _ = second.close(context.Background()) })
	rec, err := second.service.Get("INV-100")
	if err != nil {
		t.Fatalf("expected restored record: %v", err)
	}
	if rec.Origin != "FALLBACK" {
		t.Fatalf("expected FALLBACK origin, got %s", rec.Origin)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
