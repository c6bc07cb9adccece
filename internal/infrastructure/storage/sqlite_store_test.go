package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"InvoiceLedger/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fallback.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(id, hash string, at time.Time) domain.AuditRecord {
	return domain.AuditRecord{
		InvoiceID:   id,
		ContentHash: hash,
		CommittedAt: at,
		Origin:      domain.OriginFallback,
		Result: domain.ValidationResult{
			InvoiceID:  id,
			Submission: domain.InvoiceSubmission{InvoiceID: id, VendorName: "Acme Corp", Amount: domain.FromFloat(1500)},
			Score:      92,
			RiskTier:   domain.RiskLow,
			Status:     domain.StatusApproved,
			Findings:   []domain.StageFinding{{Stage: domain.StageAnomaly, Score: 12, Budget: 20, Reasons: []string{"round amount"}}},
		},
	}
}

func TestPutIsKeyedByHash(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 14, 12, 0, 0, 123456789, time.UTC)

	stored, created, err := store.Put(ctx, record("INV-100", "h1", at))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !created || stored.Origin != domain.OriginFallback {
		t.Fatalf("expected created FALLBACK record, got created=%v %+v", created, stored)
	}

	dup := record("INV-100", "h1", at.Add(time.Hour))
	stored, created, err = store.Put(ctx, dup)
	if err != nil {
		t.Fatalf("Put duplicate: %v", err)
	}
	if created || !stored.CommittedAt.Equal(at) {
		t.Fatalf("expected original record back, got created=%v at %s", created, stored.CommittedAt)
	}

	got, ok, err := store.ByHash(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("ByHash: ok=%v err=%v", ok, err)
	}
	if got.Result.Score != 92 || len(got.Result.Findings) != 1 || got.Result.Submission.Amount != domain.FromFloat(1500) {
		t.Fatalf("payload did not round trip: %+v", got.Result)
	}
	if _, ok, _ := store.ByHash(ctx, "missing"); ok {
		t.Fatal("expected missing hash to be absent")
	}
}

func TestPendingAndPromotion(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	for i, h := range []string{"a", "b", "c"} {
		if _, _, err := store.Put(ctx, record("INV-"+h, h, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Put %s: %v", h, err)
		}
	}

	pending, err := store.Pending(ctx, 2)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ContentHash != "a" || pending[1].ContentHash != "b" {
		t.Fatalf("unexpected pending batch: %+v", pending)
	}

	receipt := domain.Receipt{Sequence: 9, ReceiptID: "r-9"}
	if err := store.MarkPromoted(ctx, "a", receipt, base.Add(time.Minute)); err != nil {
		t.Fatalf("MarkPromoted: %v", err)
	}
	if err := store.MarkPromoted(ctx, "a", receipt, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkPromoted twice: %v", err)
	}

	pending, err = store.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ContentHash != "b" {
		t.Fatalf("expected b and c pending, got %+v", pending)
	}

	promoted, ok, err := store.ByHash(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("ByHash: ok=%v err=%v", ok, err)
	}
	if promoted.Origin != domain.OriginLedger || promoted.Receipt == nil || *promoted.Receipt != receipt {
		t.Fatalf("expected promoted LEDGER record, got %+v", promoted)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	byInvoice, err := store.ByInvoice(ctx, "INV-b")
	if err != nil || len(byInvoice) != 1 {
		t.Fatalf("ByInvoice: %v %+v", err, byInvoice)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fallback.db")
	ctx := context.Background()
	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, _, err := store.Put(ctx, record("INV-1", "h", time.Now())); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	all, err := store.All(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 record after reopen, got %d (%v)", len(all), err)
	}
}
