package audit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"InvoiceLedger/internal/domain"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func rec(id, hash string, at time.Time, status domain.Status, risk domain.RiskTier, origin domain.Origin) domain.AuditRecord {
	return domain.AuditRecord{
		InvoiceID:   id,
		ContentHash: hash,
		CommittedAt: at,
		Origin:      origin,
		Result: domain.ValidationResult{
			InvoiceID:  id,
			Submission: domain.InvoiceSubmission{InvoiceID: id, Amount: domain.FromFloat(10)},
			Status:     status,
			RiskTier:   risk,
		},
	}
}

func TestGetAndHistoryOrdering(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	x.Add(rec("INV-1", "b", t0.Add(time.Minute), domain.StatusRejected, domain.RiskHigh, domain.OriginLedger))
	x.Add(rec("INV-1", "a", t0, domain.StatusApproved, domain.RiskLow, domain.OriginFallback))
	x.Add(rec("INV-1", "c", t0.Add(time.Minute), domain.StatusApproved, domain.RiskLow, domain.OriginLedger))

	history := x.History("INV-1")
	if len(history) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history))
	}
	for i, want := range []string{"a", "b", "c"} {
		if history[i].ContentHash != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, history[i].ContentHash)
		}
	}
	latest, err := x.Get("INV-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if latest.ContentHash != "c" {
		t.Fatalf("expected latest c (tie broken by insertion), got %s", latest.ContentHash)
	}
	if _, err := x.Get("INV-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(x.History("INV-404")) != 0 {
		t.Fatal("expected empty history")
	}
}

func TestAddIsIdempotentAndLedgerSupersedesFallback(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	fb := rec("INV-2", "h", t0, domain.StatusApproved, domain.RiskLow, domain.OriginFallback)
	if !x.Add(fb) {
		t.Fatal("expected first add to be new")
	}
	if x.Add(fb) {
		t.Fatal("expected duplicate add to be ignored")
	}

	promoted := fb
	promoted.Origin = domain.OriginLedger
	promoted.Receipt = &domain.Receipt{Sequence: 4, ReceiptID: "r-4"}
	promoted.CommittedAt = t0.Add(time.Hour)
	x.Add(promoted)

	history := x.History("INV-2")
	if len(history) != 1 {
		t.Fatalf("expected a single record, got %d", len(history))
	}
	if history[0].Origin != domain.OriginLedger || history[0].Receipt == nil || !history[0].CommittedAt.Equal(t0) {
		t.Fatalf("expected LEDGER record at original time, got %+v", history[0])
	}

	x.Add(fb)
	if got, _ := x.Get("INV-2"); got.Origin != domain.OriginLedger {
		t.Fatal("fallback record must not replace a ledger record")
	}
}

func TestListFilterAndStats(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	x.Add(rec("INV-1", "1", t0, domain.StatusApproved, domain.RiskLow, domain.OriginLedger))
	x.Add(rec("INV-2", "2", t0.Add(time.Second), domain.StatusRejected, domain.RiskHigh, domain.OriginFallback))
	x.Add(rec("INV-3", "3", t0.Add(2*time.Second), domain.StatusRejected, domain.RiskMedium, domain.OriginLedger))
	x.Add(rec("INV-3", "4", t0.Add(3*time.Second), domain.StatusApprovedWithConditions, domain.RiskLow, domain.OriginLedger))

	rejected := x.List(Filter{Status: domain.StatusRejected})
	if len(rejected) != 2 || rejected[0].InvoiceID != "INV-2" || rejected[1].InvoiceID != "INV-3" {
		t.Fatalf("unexpected rejected list: %+v", rejected)
	}
	if high := x.List(Filter{RiskTier: domain.RiskHigh}); len(high) != 1 {
		t.Fatalf("expected 1 high-risk record, got %d", len(high))
	}
	if last := x.List(Filter{Limit: 2}); len(last) != 2 || last[1].ContentHash != "4" {
		t.Fatalf("expected two most recent records, got %+v", last)
	}
	if since := x.Since(t0.Add(2 * time.Second)); len(since) != 2 {
		t.Fatalf("expected 2 records since t0+2s, got %d", len(since))
	}

	s := x.Stats()
	if s.Total != 4 || s.Invoices != 3 || s.Approved != 1 || s.Rejected != 2 || s.ApprovedWithConditions != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.ByOrigin[domain.OriginFallback] != 1 || s.ByRisk[domain.RiskLow] != 2 {
		t.Fatalf("unexpected breakdown: %+v", s)
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	x.Add(rec("INV-OLD", "old", t0, domain.StatusApproved, domain.RiskLow, domain.OriginLedger))

	fallback := []domain.AuditRecord{rec("INV-1", "h1", t0, domain.StatusApproved, domain.RiskLow, domain.OriginFallback)}
	ledgerRecs := []domain.AuditRecord{
		rec("INV-1", "h1", t0, domain.StatusApproved, domain.RiskLow, domain.OriginLedger),
		rec("INV-2", "h2", t0, domain.StatusRejected, domain.RiskHigh, domain.OriginLedger),
	}
	if n := x.Rebuild(fallback, ledgerRecs); n != 2 {
		t.Fatalf("expected 2 records after rebuild, got %d", n)
	}
	if _, err := x.Get("INV-OLD"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("expected old content to be dropped")
	}
	if got, _ := x.Get("INV-1"); got.Origin != domain.OriginLedger {
		t.Fatalf("expected merged LEDGER origin, got %s", got.Origin)
	}
}

func TestConcurrentAdds(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x.Add(rec(fmt.Sprintf("INV-%d", i%5), fmt.Sprintf("h%d", i), t0, domain.StatusApproved, domain.RiskLow, domain.OriginLedger))
			_ = x.List(Filter{})
		}(i)
	}
	wg.Wait()
	if s := x.Stats(); s.Total != 50 || s.Invoices != 5 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestReadsDuringPromotion(t *testing.T) {
	t.Parallel()

	x := NewIndex()
	for i := 0; i < 20; i++ {
		x.Add(rec(fmt.Sprintf("INV-%d", i), fmt.Sprintf("h%d", i), t0.Add(time.Duration(i)*time.Second), domain.StatusApproved, domain.RiskLow, domain.OriginFallback))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			promoted := rec(fmt.Sprintf("INV-%d", i), fmt.Sprintf("h%d", i), t0.Add(time.Hour), domain.StatusApproved, domain.RiskLow, domain.OriginLedger)
			promoted.Receipt = &domain.Receipt{Sequence: int64(i + 1)}
			x.Add(promoted)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for _, got := range x.List(Filter{}) {
					if (got.Origin == domain.OriginLedger) != (got.Receipt != nil) {
						t.Errorf("torn record %s: origin %s receipt %v", got.ContentHash, got.Origin, got.Receipt)
						return
					}
				}
				_ = x.Since(t0)
			}
		}()
	}
	wg.Wait()

	list := x.List(Filter{Origin: domain.OriginLedger})
	if len(list) != 20 {
		t.Fatalf("expected 20 promoted records, got %d", len(list))
	}
	for i, got := range list {
		if got.ContentHash != fmt.Sprintf("h%d", i) {
			t.Fatalf("position %d: expected h%d, got %s", i, i, got.ContentHash)
		}
	}
}
