package scoring

import (
	"math"
	"time"

	"InvoiceLedger/internal/domain"
)

// ContextualStage judges whether date and amount are plausible for the
// vendor and whether line items add up.
type ContextualStage struct {
	rules Rules
}

func NewContextualStage(rules Rules) *ContextualStage {
	return &ContextualStage{rules: rules.withDefaults()}
}

func (s *ContextualStage) Name() domain.StageName { return domain.StageContextual }
func (s *ContextualStage) Budget() int            { return ContextualBudget }

func (s *ContextualStage) Evaluate(sub domain.InvoiceSubmission, in Input) domain.StageFinding {
	sh := newSheet(s.Name(), s.Budget())
	s.datePlausibility(sh, sh.allot(5), sub, in.Now)
	s.magnitude(sh, sh.allot(12), sub, in.Reference)
	s.lineItems(sh, sh.allot(8), sub)
	return sh.finding()
}

func (s *ContextualStage) datePlausibility(sh *sheet, a *allotment, sub domain.InvoiceSubmission, now time.Time) {
	d, err := sub.ParsedDate()
	if err != nil {
		a.all(domain.SeverityWarning, "invoice date cannot be evaluated")
		return
	}
	switch {
	case now.Sub(d) > s.rules.MaxInvoiceAge:
		a.all(domain.SeverityWarning, "invoice date %s is older than %s", sub.Date, s.rules.MaxInvoiceAge)
		return
	case d.Sub(now) > s.rules.MaxFutureSkew:
		a.all(domain.SeverityWarning, "invoice date %s is too far in the future", sub.Date)
		return
	}
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		sh.note("invoice dated on a %s", wd)
	}
}

func (s *ContextualStage) magnitude(sh *sheet, a *allotment, sub domain.InvoiceSubmission, ref *domain.Reference) {
	if sub.Amount <= 0 {
		a.all(domain.SeverityCritical, "amount %s cannot be compared with category norms", sub.Amount)
		return
	}
	if ref == nil {
		a.all(domain.SeverityWarning, "reference data unavailable: amount magnitude not verified")
		return
	}
	var category string
	if v, ok := ref.VendorByName(sub.VendorName); ok {
		category = v.Category
	}
	norm := ref.Norm(category)
	if norm <= 0 {
		sh.note("no amount norm for category %q", category)
		return
	}
	switch {
	case sub.Amount > 2*norm:
		a.all(domain.SeverityWarning, "amount %s is more than twice the norm %s", sub.Amount, norm)
	case sub.Amount > norm:
		a.take(6, domain.SeverityWarning, "amount %s is above the norm %s", sub.Amount, norm)
	}
}

func (s *ContextualStage) lineItems(sh *sheet, a *allotment, sub domain.InvoiceSubmission) {
	if sub.Amount <= 0 {
		a.all(domain.SeverityCritical, "amount %s cannot be reconciled with line items", sub.Amount)
		return
	}
	if !sub.HasLineItems() {
		sh.note("no line items supplied")
		return
	}
	var sum domain.Money
	for i, item := range sub.LineItems {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			a.all(domain.SeverityWarning, "line item %d has quantity %g and unit price %s", i+1, item.Quantity, item.UnitPrice)
			return
		}
		sum += item.Total()
	}
	tolerance := math.Max(1, math.Round(float64(sub.Amount)*s.rules.LineItemTolerance))
	if diff := math.Abs(float64(sum - sub.Amount)); diff > tolerance {
		a.all(domain.SeverityWarning, "line items total %s but invoice amount is %s", sum, sub.Amount)
	}
}
