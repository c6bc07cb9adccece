package erp

import (
	"testing"
	"time"

	"InvoiceLedger/internal/domain"
)

func TestToReference(t *testing.T) {
	t.Parallel()

	ref := toReference(
		[]Vendor{{Name: "Acme Corp", TaxID: "12-3456789", CreditLimit: 50000, Status: "approved", RiskLevel: "low"}},
		[]BlacklistedVendor{{TaxID: "99-9999999", Reason: "sanctioned"}},
		[]PurchaseOrder{{PONumber: "PO-7", VendorName: "Acme Corp", Amount: 1200.5, Status: "open", CreatedDate: time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)}},
		[]profileRow{{Vendor: "acme corp", Mean: 1400, StdDev: 200, Samples: 12}},
	)

	if v, ok := ref.FindVendor("Acme Corp", "12-3456789"); !ok || v.CreditLimit != domain.FromFloat(50000) {
		t.Fatalf("unexpected vendor: %+v", v)
	}
	if b, ok := ref.Blacklisted("Anyone", "99-9999999"); !ok || b.Reason != "sanctioned" {
		t.Fatalf("expected tax id blacklist hit, got %+v", b)
	}
	pos := ref.OpenPurchaseOrders("acme corp")
	if len(pos) != 1 || pos[0].CreatedDate != "2026-09-01" || pos[0].Amount != domain.FromFloat(1200.5) {
		t.Fatalf("unexpected purchase orders: %+v", pos)
	}
	if p, ok := ref.Profile("ACME CORP"); !ok || p.Samples != 12 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
