// Package scoring runs the four deterministic scoring stages over an invoice
// submission and sums their sub-scores.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"InvoiceLedger/internal/domain"
)

// Point budgets per stage. They sum to 100.
const (
	FieldBudget      = 25
	CrossRefBudget   = 30
	ContextualBudget = 25
	AnomalyBudget    = 20
)

// Stage is one pure scoring check.
type Stage interface {
	Name() domain.StageName
	Budget() int
	Evaluate(sub domain.InvoiceSubmission, in Input) domain.StageFinding
}

// Recent is an earlier submission seen by the system at SeenAt.
type Recent struct {
	Submission domain.InvoiceSubmission
	SeenAt     time.Time
}

// Input is the read-only context of a run. Prior holds earlier submissions
// with the same invoice id, Recent holds submissions of other ids.
type Input struct {
	Reference *domain.Reference
	Prior     []domain.InvoiceSubmission
	Recent    []Recent
	Now       time.Time
}

// Rules are the tunable limits used by the stages.
type Rules struct {
	MaxInvoiceAge          time.Duration
	MaxFutureSkew          time.Duration
	HighValueAmount        domain.Money
	NearDuplicateWindow    time.Duration
	NearDuplicateTolerance float64
	LineItemTolerance      float64
	ZScoreLimit            float64
}

// DefaultRules returns the limits used when configuration leaves them unset.
func DefaultRules() Rules {
	return Rules{
		MaxInvoiceAge:          365 * 24 * time.Hour,
		MaxFutureSkew:          24 * time.Hour,
		HighValueAmount:        domain.FromFloat(100000),
		NearDuplicateWindow:    30 * 24 * time.Hour,
		NearDuplicateTolerance: 0.01,
		LineItemTolerance:      0.01,
		ZScoreLimit:            3,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.MaxInvoiceAge <= 0 {
		r.MaxInvoiceAge = d.MaxInvoiceAge
	}
	if r.MaxFutureSkew < 0 {
		r.MaxFutureSkew = d.MaxFutureSkew
	}
	if r.HighValueAmount <= 0 {
		r.HighValueAmount = d.HighValueAmount
	}
	if r.NearDuplicateWindow <= 0 {
		r.NearDuplicateWindow = d.NearDuplicateWindow
	}
	if r.NearDuplicateTolerance < 0 {
		r.NearDuplicateTolerance = d.NearDuplicateTolerance
	}
	if r.LineItemTolerance < 0 {
		r.LineItemTolerance = d.LineItemTolerance
	}
	if r.ZScoreLimit <= 0 {
		r.ZScoreLimit = d.ZScoreLimit
	}
	return r
}

// sheet accumulates deductions for one stage. Each sub-check draws from its
// own allotment so a check can never take more than it was given.
type sheet struct {
	stage    domain.StageName
	budget   int
	lost     int
	reasons  []string
	severity domain.Severity
	flags    []domain.Flag
}

func newSheet(stage domain.StageName, budget int) *sheet {
	return &sheet{stage: stage, budget: budget, severity: domain.SeverityInfo}
}

type allotment struct {
	s         *sheet
	remaining int
}

func (s *sheet) allot(points int) *allotment {
	return &allotment{s: s, remaining: points}
}

// take deducts up to points from the allotment and records the reason.
func (a *allotment) take(points int, sev domain.Severity, format string, args ...any) {
	if points > a.remaining {
		points = a.remaining
	}
	a.remaining -= points
	a.s.lost += points
	a.s.reasons = append(a.s.reasons, fmt.Sprintf(format, args...))
	a.s.severity = a.s.severity.Max(sev)
}

// all zeroes the allotment.
func (a *allotment) all(sev domain.Severity, format string, args ...any) {
	a.take(a.remaining, sev, format, args...)
}

func (s *sheet) note(format string, args ...any) {
	s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
}

func (s *sheet) warn(format string, args ...any) {
	s.note(format, args...)
	s.severity = s.severity.Max(domain.SeverityWarning)
}

func (s *sheet) flag(f domain.Flag) {
	s.flags = append(s.flags, f)
}

// zero wipes the whole stage.
func (s *sheet) zero(sev domain.Severity, format string, args ...any) {
	s.lost = s.budget
	s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
	s.severity = s.severity.Max(sev)
}

func (s *sheet) finding() domain.StageFinding {
	score := s.budget - s.lost
	if score < 0 {
		score = 0
	}
	reasons := s.reasons
	if len(reasons) == 0 {
		reasons = []string{"all checks passed"}
	}
	return domain.StageFinding{
		Stage:    s.stage,
		Score:    score,
		Budget:   s.budget,
		Reasons:  reasons,
		Severity: s.severity,
		Flags:    s.flags,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(domain.DateLayout, strings.TrimSpace(raw))
}
