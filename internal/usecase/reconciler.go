package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"InvoiceLedger/internal/audit"
	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ledger"
	"InvoiceLedger/internal/ports"
)

const defaultSweepBatch = 50

// Reconciler wires the periodic driver with the ledger promotion sweep.
type Reconciler struct {
	driver ports.Scheduler
	ledger *ledger.Client
	index  *audit.Index
	batch  int
	logger *slog.Logger
}

// NewReconciler returns a helper to start/stop the reconciliation sweep.
func NewReconciler(driver ports.Scheduler, client *ledger.Client, index *audit.Index, batch int, logger *slog.Logger) *Reconciler {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{driver: driver, ledger: client, index: index, batch: batch, logger: logger}
}

// Sweep promotes one batch of FALLBACK records and publishes the LEDGER
// copies to the index.
func (r *Reconciler) Sweep(ctx context.Context) (ledger.SweepReport, error) {
	report, err := r.ledger.Reconcile(ctx, r.batch)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	for _, rec := range report.Promoted {
		r.index.Add(rec)
	}
	if len(report.Promoted) > 0 || report.Skipped > 0 {
		r.logger.Info("reconcile sweep", "pending", report.Pending, "promoted", len(report.Promoted), "skipped", report.Skipped)
	}
	return report, nil
}

// Start registers the sweep with the provided scheduler.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.driver == nil || r.ledger == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconcile sweep failed", "trigger", trigger, "error", err)
		}
	}

	return r.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.driver == nil {
		return nil
	}

	return r.driver.Stop(ctx)
}

// Restore rebuilds the index and the ledger duplicate cache from the
// fallback store and, when reachable, the remote ledger listing.
func Restore(ctx context.Context, index *audit.Index, client *ledger.Client, fallback ports.FallbackStore, remote ports.Ledger, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	local, err := fallback.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load fallback records: %w", err)
	}
	var remoteRecords []domain.AuditRecord
	if remote != nil {
		remoteRecords, err = remote.Records(ctx)
		if err != nil {
			logger.Warn("ledger listing unavailable, rebuilding from fallback only", "error", err)
			remoteRecords = nil
		}
	}
	client.Known(local)
	client.Known(remoteRecords)
	return index.Rebuild(local, remoteRecords), nil
}
