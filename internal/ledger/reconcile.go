package ledger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"InvoiceLedger/internal/domain"
)

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Pending  int
	Promoted []domain.AuditRecord
	Skipped  int
}

// Reconcile promotes up to batch FALLBACK records to the remote ledger. The
// sweep stops at the first failed append, leaving the rest for the next pass.
func (c *Client) Reconcile(ctx context.Context, batch int) (SweepReport, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.reconcile")
	defer span.End()

	if c.remote == nil {
		return SweepReport{}, nil
	}
	pending, err := c.fallback.Pending(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return SweepReport{}, fmt.Errorf("load pending: %w", err)
	}
	report := SweepReport{Pending: len(pending)}
	for i, rec := range pending {
		promoted, err := c.promote(ctx, rec)
		if err != nil {
			report.Skipped = len(pending) - i
			c.logger.Warn("reconcile stopped", "invoice_id", rec.InvoiceID, "hash", rec.ContentHash, "remaining", report.Skipped, "error", err)
			break
		}
		report.Promoted = append(report.Promoted, promoted)
	}
	span.SetAttributes(
		attribute.Int("ledger.pending", report.Pending),
		attribute.Int("ledger.promoted", len(report.Promoted)),
	)
	return report, nil
}

func (c *Client) promote(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	unlock := c.locks.Lock(rec.InvoiceID)
	defer unlock()

	receipt, err := c.appendRemote(ctx, rec)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if err := c.fallback.MarkPromoted(ctx, rec.ContentHash, receipt, c.now().UTC()); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("mark promoted: %w", err)
	}
	promoted := rec
	promoted.Origin = domain.OriginLedger
	promoted.Receipt = &receipt
	c.remember(promoted)
	return promoted, nil
}
