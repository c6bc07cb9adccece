package scoring

import (
	"strings"

	"InvoiceLedger/internal/domain"
)

// CrossRefStage checks the submission against reference data and earlier
// submissions of the same invoice id.
type CrossRefStage struct {
	rules Rules
}

func NewCrossRefStage(rules Rules) *CrossRefStage {
	return &CrossRefStage{rules: rules.withDefaults()}
}

func (s *CrossRefStage) Name() domain.StageName { return domain.StageCrossReference }
func (s *CrossRefStage) Budget() int            { return CrossRefBudget }

func (s *CrossRefStage) Evaluate(sub domain.InvoiceSubmission, in Input) domain.StageFinding {
	sh := newSheet(s.Name(), s.Budget())
	s.identity(sh.allot(10), sub, in.Reference)
	s.duplicate(sh, sh.allot(8), sub, in.Prior)
	s.limit(sh, sh.allot(12), sub, in.Reference)
	return sh.finding()
}

func (s *CrossRefStage) identity(a *allotment, sub domain.InvoiceSubmission, ref *domain.Reference) {
	name, tax := strings.TrimSpace(sub.VendorName), strings.TrimSpace(sub.TaxID)
	if ref == nil {
		a.all(domain.SeverityWarning, "reference data unavailable: vendor identity not verified")
		return
	}
	if name == "" || tax == "" {
		a.all(domain.SeverityWarning, "vendor identity cannot be verified without vendor name and tax id")
		return
	}
	v, ok := ref.FindVendor(name, tax)
	if !ok {
		if known, byName := ref.VendorByName(name); byName {
			a.all(domain.SeverityCritical, "tax id %s does not match approved vendor %s", tax, known.Name)
			return
		}
		a.all(domain.SeverityWarning, "vendor %s is not on the approved vendor list", name)
		return
	}
	if !v.Approved() {
		a.take(5, domain.SeverityWarning, "vendor %s has status %s and risk level %s", v.Name, v.Status, v.RiskLevel)
	}
}

func (s *CrossRefStage) duplicate(sh *sheet, a *allotment, sub domain.InvoiceSubmission, prior []domain.InvoiceSubmission) {
	if len(prior) == 0 {
		return
	}
	sh.flag(domain.FlagDuplicateID)
	for _, p := range prior {
		if sameContent(p, sub) {
			a.all(domain.SeverityCritical, "invoice %s was already submitted with identical content", sub.InvoiceID)
			return
		}
	}
	a.all(domain.SeverityCritical, "invoice id %s was already used by %d earlier submission(s)", sub.InvoiceID, len(prior))
	sh.zero(domain.SeverityCritical, "invoice %s differs from its earlier submission in vendor, amount or date", sub.InvoiceID)
}

func (s *CrossRefStage) limit(sh *sheet, a *allotment, sub domain.InvoiceSubmission, ref *domain.Reference) {
	if sub.Amount <= 0 {
		a.all(domain.SeverityCritical, "amount %s cannot be checked against credit limits", sub.Amount)
		return
	}
	if ref == nil {
		a.all(domain.SeverityWarning, "reference data unavailable: credit limit not verified")
		return
	}
	v, ok := ref.VendorByName(sub.VendorName)
	if !ok || v.CreditLimit <= 0 {
		sh.note("no credit limit on record for vendor")
		return
	}
	if sub.Amount <= v.CreditLimit {
		return
	}
	if po, covered := coveringOrder(ref, sub); covered {
		sh.note("amount %s exceeds credit limit %s but is covered by open purchase order %s", sub.Amount, v.CreditLimit, po.Number)
		return
	}
	a.all(domain.SeverityCritical, "amount %s exceeds credit limit %s for vendor %s", sub.Amount, v.CreditLimit, v.Name)
}

// coveringOrder finds an open purchase order of the vendor, raised no later
// than the invoice date, whose amount is at least the invoice amount.
func coveringOrder(ref *domain.Reference, sub domain.InvoiceSubmission) (domain.PurchaseOrder, bool) {
	invoiceDate, err := sub.ParsedDate()
	if err != nil {
		return domain.PurchaseOrder{}, false
	}
	for _, po := range ref.OpenPurchaseOrders(sub.VendorName) {
		created, err := parseDate(po.CreatedDate)
		if err != nil || created.After(invoiceDate) {
			continue
		}
		if po.Amount >= sub.Amount {
			return po, true
		}
	}
	return domain.PurchaseOrder{}, false
}

func sameContent(a, b domain.InvoiceSubmission) bool {
	return domain.NormalizeName(a.VendorName) == domain.NormalizeName(b.VendorName) &&
		strings.TrimSpace(a.TaxID) == strings.TrimSpace(b.TaxID) &&
		a.Amount == b.Amount &&
		strings.TrimSpace(a.Date) == strings.TrimSpace(b.Date)
}
