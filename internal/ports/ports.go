package ports

import (
	"context"
	"errors"
	"time"

	"InvoiceLedger/internal/domain"
)

// ErrLedgerRejected is returned by a Ledger that refused an entry outright.
// Retrying a rejected entry cannot succeed.
var ErrLedgerRejected = errors.New("ledger rejected entry")

// Ledger is the remote append-only audit ledger.
type Ledger interface {
	Append(ctx context.Context, entry domain.LedgerEntry) (domain.Receipt, error)
	// Lookup returns the record stored under a content hash, if any.
	Lookup(ctx context.Context, hash string) (domain.AuditRecord, bool, error)
	Records(ctx context.Context) ([]domain.AuditRecord, error)
	Ping(ctx context.Context) error
}

// FallbackStore is the local append log keyed by content hash.
type FallbackStore interface {
	// Put stores rec unless its hash is already present, in which case the
	// existing record is returned with created == false.
	Put(ctx context.Context, rec domain.AuditRecord) (stored domain.AuditRecord, created bool, err error)
	ByHash(ctx context.Context, hash string) (domain.AuditRecord, bool, error)
	Pending(ctx context.Context, limit int) ([]domain.AuditRecord, error)
	MarkPromoted(ctx context.Context, hash string, receipt domain.Receipt, at time.Time) error
	All(ctx context.Context) ([]domain.AuditRecord, error)
}

// ReferenceSource loads vendor, blacklist and purchase order data.
type ReferenceSource interface {
	Load(ctx context.Context) (*domain.Reference, error)
}

// Extractor turns a raw document into best-effort submission fields.
type Extractor interface {
	MediaTypes() []string
	Extract(ctx context.Context, doc []byte) (domain.Extraction, error)
}

// TextRecognizer reads printed text from an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Explainer writes a human-readable explanation of a decision.
type Explainer interface {
	Explain(ctx context.Context, result domain.ValidationResult) (string, error)
}

// Notifier alerts a human channel about high-risk decisions.
type Notifier interface {
	NotifyHighRisk(ctx context.Context, rec domain.AuditRecord) error
}

// Scheduler controls when periodic sweeps execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
