package ledgerapi

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// Memory is an in-process ledger for development and tests. Appends are
// idempotent by content hash.
type Memory struct {
	mu      sync.Mutex
	seq     int64
	byHash  map[string]domain.AuditRecord
	offline bool
}

var _ ports.Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{byHash: map[string]domain.AuditRecord{}}
}

// SetOffline makes every call fail with ErrUnavailable.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

func (m *Memory) Append(ctx context.Context, entry domain.LedgerEntry) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return domain.Receipt{}, ErrUnavailable
	}
	if rec, ok := m.byHash[entry.ContentHash]; ok {
		return *rec.Receipt, nil
	}
	m.seq++
	receipt := domain.Receipt{Sequence: m.seq, ReceiptID: uuid.NewString()}
	m.byHash[entry.ContentHash] = domain.AuditRecord{
		InvoiceID:   entry.InvoiceID,
		Result:      entry.Result,
		CommittedAt: entry.CommittedAt,
		Origin:      domain.OriginLedger,
		Receipt:     &receipt,
		ContentHash: entry.ContentHash,
	}
	return receipt, nil
}

func (m *Memory) Lookup(ctx context.Context, hash string) (domain.AuditRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditRecord{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return domain.AuditRecord{}, false, ErrUnavailable
	}
	rec, ok := m.byHash[hash]
	return rec, ok, nil
}

func (m *Memory) Records(ctx context.Context) ([]domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, ErrUnavailable
	}
	out := make([]domain.AuditRecord, 0, len(m.byHash))
	for _, rec := range m.byHash {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Receipt.Sequence < out[j].Receipt.Sequence })
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return ErrUnavailable
	}
	return nil
}
