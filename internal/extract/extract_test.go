package extract

import (
	"context"
	"errors"
	"testing"

	"InvoiceLedger/internal/domain"
)

const sampleText = `Acme Corp
123 Main Street

Invoice #: INV-2026-042
Invoice Date: 10/14/2026
Tax ID: 12-3456789

Subtotal: 1,400.00
Total: $1,500.00
`

func TestParseTextFindsAllFields(t *testing.T) {
	t.Parallel()

	out := ParseText(sampleText)
	sub := out.Submission
	if sub.InvoiceID != "INV-2026-042" {
		t.Fatalf("expected invoice id INV-2026-042, got %q", sub.InvoiceID)
	}
	if sub.VendorName != "Acme Corp" {
		t.Fatalf("expected vendor Acme Corp, got %q", sub.VendorName)
	}
	if sub.TaxID != "12-3456789" {
		t.Fatalf("expected tax id, got %q", sub.TaxID)
	}
	if sub.Amount != domain.FromFloat(1500) {
		t.Fatalf("expected amount 1500.00, got %s", sub.Amount)
	}
	if sub.Date != "2026-10-14" {
		t.Fatalf("expected date 2026-10-14, got %q", sub.Date)
	}
	if out.Confidence != 1 || len(out.Missing) != 0 {
		t.Fatalf("expected full confidence, got %v missing %v", out.Confidence, out.Missing)
	}
}

func TestParseTextPartial(t *testing.T) {
	t.Parallel()

	out := ParseText("Vendor: Globex LLC\nAmount due: 250.10\n")
	if out.Submission.VendorName != "Globex LLC" {
		t.Fatalf("expected labeled vendor, got %q", out.Submission.VendorName)
	}
	if out.Confidence != 0.4 {
		t.Fatalf("expected confidence 0.4, got %v", out.Confidence)
	}
	if len(out.Missing) != 3 {
		t.Fatalf("expected 3 missing fields, got %v", out.Missing)
	}
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"2026-10-14":        "2026-10-14",
		"2026/1/5":          "2026-01-05",
		"10/14/2026":        "2026-10-14",
		"14/10/2026":        "2026-10-14",
		"3-4-26":            "2026-03-04",
		"Aug 31, 2013":      "2013-08-31",
		"September 1, 2025": "2025-09-01",
		"2026-02-30":        "",
		"no date here":      "",
	}
	for in, want := range tests {
		if got := NormalizeDate(in); got != want {
			t.Fatalf("NormalizeDate(%q): expected %q, got %q", in, want, got)
		}
	}
}

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) Recognize(context.Context, []byte) (string, error) { return s.text, s.err }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(TextExtractor{})
	reg.Register(&ImageExtractor{OCR: stubOCR{text: sampleText}})

	out, err := reg.Extract(context.Background(), "text/plain; charset=utf-8", []byte(sampleText))
	if err != nil {
		t.Fatalf("Extract text: %v", err)
	}
	if out.MediaType != "text/plain" {
		t.Fatalf("expected text/plain, got %q", out.MediaType)
	}

	out, err = reg.Extract(context.Background(), "image/png", []byte{0x89})
	if err != nil {
		t.Fatalf("Extract image: %v", err)
	}
	if out.MediaType != "image/png" || out.Submission.InvoiceID != "INV-2026-042" {
		t.Fatalf("unexpected image extraction: %+v", out)
	}

	if _, err := reg.Extract(context.Background(), "application/zip", nil); !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}
}

func TestImageExtractorPropagatesOCRFailure(t *testing.T) {
	t.Parallel()

	ex := &ImageExtractor{OCR: stubOCR{err: errors.New("quota exceeded")}}
	if _, err := ex.Extract(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected OCR error")
	}
}
