package scoring

import (
	"math"
	"strings"
	"unicode"

	"InvoiceLedger/internal/domain"
)

// DefaultFraudKeywords is used when the reference data carries none.
var DefaultFraudKeywords = []string{
	"urgent", "immediate payment", "act now", "limited time",
	"wire transfer only", "cash only", "bitcoin", "cryptocurrency",
}

// AnomalyStage looks for fraud indicators.
type AnomalyStage struct {
	rules Rules
}

func NewAnomalyStage(rules Rules) *AnomalyStage {
	return &AnomalyStage{rules: rules.withDefaults()}
}

func (s *AnomalyStage) Name() domain.StageName { return domain.StageAnomaly }
func (s *AnomalyStage) Budget() int            { return AnomalyBudget }

func (s *AnomalyStage) Evaluate(sub domain.InvoiceSubmission, in Input) domain.StageFinding {
	sh := newSheet(s.Name(), s.Budget())
	if in.Reference == nil {
		sh.warn("reference data unavailable: blacklist not checked")
	} else if hit, ok := in.Reference.Blacklisted(sub.VendorName, sub.TaxID); ok {
		sh.flag(domain.FlagBlacklisted)
		reason := hit.Reason
		if reason == "" {
			reason = "no reason recorded"
		}
		sh.zero(domain.SeverityCritical, "vendor %s is blacklisted: %s", sub.VendorName, reason)
		return sh.finding()
	}
	s.nearDuplicate(sh, sh.allot(8), sub, in)
	s.statistics(sh, sh.allot(6), sub, in.Reference)
	s.patterns(sh.allot(6), sub, in.Reference)
	return sh.finding()
}

func (s *AnomalyStage) nearDuplicate(sh *sheet, a *allotment, sub domain.InvoiceSubmission, in Input) {
	if sub.Amount <= 0 {
		a.all(domain.SeverityCritical, "amount %s cannot be checked for near-duplicates", sub.Amount)
		return
	}
	vendor := domain.NormalizeName(sub.VendorName)
	folded := foldID(sub.InvoiceID)
	tolerance := math.Max(1, math.Round(float64(sub.Amount)*s.rules.NearDuplicateTolerance))
	for _, r := range in.Recent {
		other := r.Submission
		if other.InvoiceID == sub.InvoiceID || domain.NormalizeName(other.VendorName) != vendor {
			continue
		}
		if !r.SeenAt.IsZero() && in.Now.Sub(r.SeenAt) > s.rules.NearDuplicateWindow {
			continue
		}
		if foldID(other.InvoiceID) == folded {
			sh.flag(domain.FlagNearDuplicate)
			a.all(domain.SeverityCritical, "invoice id %s resembles recent invoice %s from the same vendor", sub.InvoiceID, other.InvoiceID)
			return
		}
		if math.Abs(float64(other.Amount-sub.Amount)) <= tolerance {
			sh.flag(domain.FlagNearDuplicate)
			a.all(domain.SeverityCritical, "amount %s matches recent invoice %s (%s) from the same vendor", sub.Amount, other.InvoiceID, other.Amount)
			return
		}
	}
}

func (s *AnomalyStage) statistics(sh *sheet, a *allotment, sub domain.InvoiceSubmission, ref *domain.Reference) {
	if sub.Amount <= 0 {
		a.all(domain.SeverityCritical, "amount %s cannot be compared with vendor history", sub.Amount)
		return
	}
	if ref == nil {
		a.all(domain.SeverityWarning, "reference data unavailable: amount statistics not checked")
		return
	}
	p, ok := ref.Profile(sub.VendorName)
	if !ok || p.Samples < 2 || p.StdDev <= 0 {
		sh.note("no amount history for vendor")
		return
	}
	z := (sub.Amount.Float() - p.Mean) / p.StdDev
	if math.Abs(z) > s.rules.ZScoreLimit {
		a.all(domain.SeverityWarning, "amount %s is %.1f standard deviations from the vendor mean", sub.Amount, z)
	}
}

func (s *AnomalyStage) patterns(a *allotment, sub domain.InvoiceSubmission, ref *domain.Reference) {
	if sub.Amount <= 0 {
		a.all(domain.SeverityCritical, "non-positive amount %s", sub.Amount)
		return
	}
	keywords := DefaultFraudKeywords
	if ref != nil && len(ref.FraudKeywords) > 0 {
		keywords = ref.FraudKeywords
	}
	text := strings.ToLower(sub.VendorName + " " + sub.Notes)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			a.take(3, domain.SeverityWarning, "suspicious keyword %q", kw)
		}
	}
	if sub.Amount >= domain.FromFloat(1000) && sub.Amount%domain.FromFloat(1000) == 0 {
		a.take(2, domain.SeverityInfo, "round amount %s", sub.Amount)
	}
	if longestDigitRun(sub.VendorName) >= 3 {
		a.take(1, domain.SeverityInfo, "vendor name %q contains a digit run", sub.VendorName)
	}
}

// foldID removes case, separators and look-alike characters from an id.
func foldID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		switch {
		case r == 'O':
			b.WriteRune('0')
		case r == 'I' || r == 'L':
			b.WriteRune('1')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func longestDigitRun(s string) int {
	best, run := 0, 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	return best
}
