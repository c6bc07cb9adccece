package scoring

import (
	"regexp"
	"strings"

	"InvoiceLedger/internal/domain"
)

var (
	invoiceIDPattern = regexp.MustCompile(`^[A-Z0-9-]{3,20}$`)
	taxIDPattern     = regexp.MustCompile(`^\d{2}-\d{7}$`)
)

// FieldStage checks presence and format of the required fields.
type FieldStage struct {
	rules Rules
}

func NewFieldStage(rules Rules) *FieldStage {
	return &FieldStage{rules: rules.withDefaults()}
}

func (s *FieldStage) Name() domain.StageName { return domain.StageFieldValidation }
func (s *FieldStage) Budget() int            { return FieldBudget }

func (s *FieldStage) Evaluate(sub domain.InvoiceSubmission, in Input) domain.StageFinding {
	sh := newSheet(s.Name(), s.Budget())

	id := sh.allot(5)
	switch trimmed := strings.TrimSpace(sub.InvoiceID); {
	case trimmed == "":
		id.all(domain.SeverityCritical, "missing required field: invoice_id")
	case !invoiceIDPattern.MatchString(trimmed):
		id.take(3, domain.SeverityWarning, "invoice_id %q does not match the expected format", trimmed)
	}

	vendor := sh.allot(3)
	if strings.TrimSpace(sub.VendorName) == "" {
		vendor.all(domain.SeverityWarning, "missing required field: vendor_name")
	}

	tax := sh.allot(6)
	switch trimmed := strings.TrimSpace(sub.TaxID); {
	case trimmed == "":
		tax.all(domain.SeverityWarning, "missing required field: tax_id")
	case !taxIDPattern.MatchString(trimmed):
		tax.take(4, domain.SeverityWarning, "tax_id %q does not match NN-NNNNNNN", trimmed)
	}

	amount := sh.allot(8)
	switch {
	case sub.Amount <= 0:
		amount.all(domain.SeverityCritical, "amount must be positive, got %s", sub.Amount)
	case sub.Amount > s.rules.HighValueAmount:
		amount.take(4, domain.SeverityCritical, "amount %s exceeds high-value threshold %s", sub.Amount, s.rules.HighValueAmount)
	}

	date := sh.allot(3)
	if strings.TrimSpace(sub.Date) == "" {
		date.all(domain.SeverityWarning, "missing required field: date")
	} else if d, err := sub.ParsedDate(); err != nil {
		date.all(domain.SeverityWarning, "date %q is not YYYY-MM-DD", sub.Date)
	} else if d.After(startOfDay(in.Now)) {
		date.all(domain.SeverityWarning, "date %s is in the future", sub.Date)
	}

	return sh.finding()
}
