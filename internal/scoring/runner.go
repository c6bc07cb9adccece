package scoring

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"InvoiceLedger/internal/domain"
)

const maxInvoiceIDLength = 64

// Evaluation is the summed output of all stages for one submission.
type Evaluation struct {
	Submission domain.InvoiceSubmission
	Findings   []domain.StageFinding
	Score      int
}

// Flagged reports whether any finding carries flag.
func (e Evaluation) Flagged(flag domain.Flag) bool {
	for _, f := range e.Findings {
		if f.HasFlag(flag) {
			return true
		}
	}
	return false
}

// Runner invokes the stages in fixed order.
type Runner struct {
	stages []Stage
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner builds the field → cross-reference → contextual → anomaly chain.
func NewRunner(rules Rules, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		stages: []Stage{
			NewFieldStage(rules),
			NewCrossRefStage(rules),
			NewContextualStage(rules),
			NewAnomalyStage(rules),
		},
		logger: logger.With("component", "scoring"),
		now:    time.Now,
	}
}

// Run evaluates sub. It fails only when the submission cannot be scored at
// all; every stage runs even if an earlier one scored zero.
func (r *Runner) Run(sub domain.InvoiceSubmission, in Input) (Evaluation, error) {
	if err := CheckShape(sub); err != nil {
		return Evaluation{}, err
	}
	if in.Now.IsZero() {
		in.Now = r.now()
	}

	eval := Evaluation{Submission: sub, Findings: make([]domain.StageFinding, 0, len(r.stages))}
	for _, stage := range r.stages {
		finding := r.evaluate(stage, sub, in)
		eval.Findings = append(eval.Findings, finding)
		eval.Score += finding.Score
	}
	return eval, nil
}

func (r *Runner) evaluate(stage Stage, sub domain.InvoiceSubmission, in Input) (finding domain.StageFinding) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("stage panicked", "stage", stage.Name(), "invoice_id", sub.InvoiceID, "panic", rec)
			finding = domain.StageFinding{
				Stage:    stage.Name(),
				Score:    0,
				Budget:   stage.Budget(),
				Reasons:  []string{fmt.Sprintf("stage could not be evaluated: %v", rec)},
				Severity: domain.SeverityWarning,
			}
		}
	}()
	finding = stage.Evaluate(sub, in)
	if finding.Score > stage.Budget() {
		finding.Score = stage.Budget()
	}
	if finding.Score < 0 {
		finding.Score = 0
	}
	return finding
}

// CheckShape rejects submissions that cannot be identified.
func CheckShape(sub domain.InvoiceSubmission) error {
	id := strings.TrimSpace(sub.InvoiceID)
	if id == "" {
		return &domain.SubmissionError{Field: "invoice_id", Reason: "missing"}
	}
	if len(id) > maxInvoiceIDLength {
		return &domain.SubmissionError{Field: "invoice_id", Reason: "too long"}
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return &domain.SubmissionError{Field: "invoice_id", Reason: "contains control characters"}
	}
	return nil
}
