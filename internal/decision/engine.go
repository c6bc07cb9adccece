// Package decision maps a scored submission to a fraud-risk tier and status.
package decision

import (
	"fmt"
	"time"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/scoring"
)

// Thresholds are read once at startup.
type Thresholds struct {
	Approve int
	Reject  int
}

// DefaultThresholds returns approve at 85 and reject below 30.
func DefaultThresholds() Thresholds {
	return Thresholds{Approve: 85, Reject: 30}
}

// Engine is a deterministic decision function over an Evaluation.
type Engine struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewEngine validates thresholds and builds the engine.
func NewEngine(t Thresholds) (*Engine, error) {
	if t.Reject < 0 || t.Approve > 100 || t.Reject > t.Approve {
		return nil, fmt.Errorf("decision thresholds: reject %d and approve %d must satisfy 0 <= reject <= approve <= 100", t.Reject, t.Approve)
	}
	return &Engine{thresholds: t, now: time.Now}, nil
}

// Thresholds returns the configured thresholds.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Decide produces the ValidationResult of an evaluation.
func (e *Engine) Decide(eval scoring.Evaluation) domain.ValidationResult {
	risk := RiskTier(eval.Findings)
	return domain.ValidationResult{
		InvoiceID:  eval.Submission.InvoiceID,
		Submission: eval.Submission,
		Findings:   eval.Findings,
		Score:      eval.Score,
		RiskTier:   risk,
		Status:     e.Status(eval.Score, risk),
		CreatedAt:  e.now().UTC(),
	}
}

// RiskTier is HIGH on a blacklist or near-duplicate hit, MEDIUM when the
// anomaly stage lost more than half its budget, LOW otherwise.
func RiskTier(findings []domain.StageFinding) domain.RiskTier {
	for _, f := range findings {
		if f.Stage != domain.StageAnomaly {
			continue
		}
		if f.HasFlag(domain.FlagBlacklisted) || f.HasFlag(domain.FlagNearDuplicate) {
			return domain.RiskHigh
		}
		if lost := f.Budget - f.Score; 2*lost > f.Budget {
			return domain.RiskMedium
		}
	}
	return domain.RiskLow
}

// Status applies the thresholds. HIGH risk always rejects.
func (e *Engine) Status(score int, risk domain.RiskTier) domain.Status {
	switch {
	case risk == domain.RiskHigh || score < e.thresholds.Reject:
		return domain.StatusRejected
	case score >= e.thresholds.Approve:
		return domain.StatusApproved
	default:
		return domain.StatusApprovedWithConditions
	}
}
