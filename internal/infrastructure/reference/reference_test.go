package reference

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"InvoiceLedger/internal/domain"
)

const sampleYAML = `
approved_vendors:
  - name: Acme Corp
    tax_id: 12-3456789
    credit_limit: 50000
    risk_level: low
    status: approved
    category: Supplies
blacklisted_vendors:
  - name: Shady Supplies
    reason: confirmed fraud
purchase_orders:
  - po_number: PO-1
    vendor_name: Acme Corp
    amount: 80000
    status: open
    created_date: "2026-09-01"
category_norms:
  Supplies: 10000
default_norm: 20000
amount_profiles:
  "ACME  Corp": {mean: 1400, std_dev: 200, samples: 40}
fraud_keywords: [urgent]
`

func TestFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reference.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ref, err := NewFileSource(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	v, ok := ref.FindVendor("acme corp", "12-3456789")
	if !ok || v.CreditLimit != domain.FromFloat(50000) || !v.Approved() {
		t.Fatalf("unexpected vendor: %+v ok=%v", v, ok)
	}
	if _, hit := ref.Blacklisted("Shady Supplies", ""); !hit {
		t.Fatal("expected blacklist hit")
	}
	if pos := ref.OpenPurchaseOrders("Acme Corp"); len(pos) != 1 || pos[0].Amount != domain.FromFloat(80000) {
		t.Fatalf("unexpected purchase orders: %+v", pos)
	}
	if ref.Norm("supplies") != domain.FromFloat(10000) || ref.Norm("unknown") != domain.FromFloat(20000) {
		t.Fatalf("unexpected norms: %+v default %s", ref.CategoryNorms, ref.DefaultNorm)
	}
	if p, ok := ref.Profile("Acme Corp"); !ok || p.Samples != 40 {
		t.Fatalf("unexpected profile: %+v ok=%v", p, ok)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("approved_vendors: [{credit_limit: 1}]")); err == nil {
		t.Fatal("expected error for vendor without name")
	}
	if _, err := Parse([]byte("approved_vendors: {")); err == nil {
		t.Fatal("expected yaml error")
	}
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

type staticSource struct{ ref *domain.Reference }

func (s staticSource) Load(context.Context) (*domain.Reference, error) { return s.ref, nil }

func TestChainMergesSections(t *testing.T) {
	t.Parallel()

	base := &domain.Reference{
		Vendors:       []domain.Vendor{{Name: "Old"}},
		FraudKeywords: []string{"urgent"},
		DefaultNorm:   domain.FromFloat(100),
	}
	top := &domain.Reference{Vendors: []domain.Vendor{{Name: "New"}}}

	ref, err := Chain{staticSource{base}, staticSource{top}}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(ref.Vendors) != 1 || ref.Vendors[0].Name != "New" {
		t.Fatalf("expected overlay vendors, got %+v", ref.Vendors)
	}
	if len(ref.FraudKeywords) != 1 || ref.DefaultNorm != domain.FromFloat(100) {
		t.Fatalf("expected base sections kept, got %+v", ref)
	}
	if base.Vendors[0].Name != "Old" {
		t.Fatal("base was modified")
	}
}
