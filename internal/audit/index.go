// Package audit keeps the in-memory read model over ledger and fallback
// audit records.
package audit

import (
	"sort"
	"sync"
	"time"

	"InvoiceLedger/internal/domain"
)

type entry struct {
	rec domain.AuditRecord
	seq uint64
}

func (e *entry) before(o *entry) bool {
	if !e.rec.CommittedAt.Equal(o.rec.CommittedAt) {
		return e.rec.CommittedAt.Before(o.rec.CommittedAt)
	}
	return e.seq < o.seq
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status   domain.Status
	RiskTier domain.RiskTier
	Origin   domain.Origin
	Limit    int
}

func (f Filter) match(rec domain.AuditRecord) bool {
	if f.Status != "" && rec.Result.Status != f.Status {
		return false
	}
	if f.RiskTier != "" && rec.Result.RiskTier != f.RiskTier {
		return false
	}
	if f.Origin != "" && rec.Origin != f.Origin {
		return false
	}
	return true
}

// Stats are aggregate counts over all indexed records.
type Stats struct {
	Total                  int                     `json:"total"`
	Invoices               int                     `json:"invoices"`
	Approved               int                     `json:"approved"`
	ApprovedWithConditions int                     `json:"approved_with_conditions"`
	Rejected               int                     `json:"rejected"`
	ByRisk                 map[domain.RiskTier]int `json:"by_risk"`
	ByOrigin               map[domain.Origin]int   `json:"by_origin"`
}

// Index merges records of both origins. A LEDGER record supersedes a
// FALLBACK record with the same content hash in place, keeping its position.
type Index struct {
	mu        sync.RWMutex
	seq       uint64
	byHash    map[string]*entry
	byInvoice map[string][]*entry
}

func NewIndex() *Index {
	return &Index{
		byHash:    map[string]*entry{},
		byInvoice: map[string][]*entry{},
	}
}

// Add indexes rec and reports whether it was new.
func (x *Index) Add(rec domain.AuditRecord) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.add(rec)
}

func (x *Index) add(rec domain.AuditRecord) bool {
	if e, ok := x.byHash[rec.ContentHash]; ok {
		if e.rec.Origin == domain.OriginFallback && rec.Origin == domain.OriginLedger {
			committedAt := e.rec.CommittedAt
			e.rec = rec
			e.rec.CommittedAt = committedAt
		}
		return false
	}
	x.seq++
	e := &entry{rec: rec, seq: x.seq}
	x.byHash[rec.ContentHash] = e

	list := x.byInvoice[rec.InvoiceID]
	i := sort.Search(len(list), func(i int) bool { return e.before(list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	x.byInvoice[rec.InvoiceID] = list
	return true
}

// Rebuild replaces the index content with records, in the given order.
func (x *Index) Rebuild(records ...[]domain.AuditRecord) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.seq = 0
	x.byHash = map[string]*entry{}
	x.byInvoice = map[string][]*entry{}
	for _, batch := range records {
		for _, rec := range batch {
			x.add(rec)
		}
	}
	return len(x.byHash)
}

// Get returns the latest record of an invoice.
func (x *Index) Get(invoiceID string) (domain.AuditRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	list := x.byInvoice[invoiceID]
	if len(list) == 0 {
		return domain.AuditRecord{}, domain.ErrNotFound
	}
	return list[len(list)-1].rec, nil
}

// History returns every record of an invoice, oldest first.
func (x *Index) History(invoiceID string) []domain.AuditRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	list := x.byInvoice[invoiceID]
	out := make([]domain.AuditRecord, len(list))
	for i, e := range list {
		out[i] = e.rec
	}
	return out
}

// Prior returns the submissions already recorded for an invoice id.
func (x *Index) Prior(invoiceID string) []domain.InvoiceSubmission {
	history := x.History(invoiceID)
	out := make([]domain.InvoiceSubmission, len(history))
	for i, rec := range history {
		out[i] = rec.Result.Submission
	}
	return out
}

// List returns matching records ordered by commit time, then insertion.
func (x *Index) List(f Filter) []domain.AuditRecord {
	out := x.snapshot(f.match)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Since returns records committed at or after t, ordered.
func (x *Index) Since(t time.Time) []domain.AuditRecord {
	return x.snapshot(func(rec domain.AuditRecord) bool { return !rec.CommittedAt.Before(t) })
}

// snapshot copies matching entries under the read lock, since a promotion
// rewrites an entry in place, and sorts the copies after releasing it.
func (x *Index) snapshot(keep func(domain.AuditRecord) bool) []domain.AuditRecord {
	x.mu.RLock()
	matched := make([]entry, 0, len(x.byHash))
	for _, e := range x.byHash {
		if keep(e.rec) {
			matched = append(matched, *e)
		}
	}
	x.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].before(&matched[j]) })
	out := make([]domain.AuditRecord, len(matched))
	for i := range matched {
		out[i] = matched[i].rec
	}
	return out
}

// Stats counts records by status, risk tier and origin.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Stats{
		Total:    len(x.byHash),
		Invoices: len(x.byInvoice),
		ByRisk:   map[domain.RiskTier]int{},
		ByOrigin: map[domain.Origin]int{},
	}
	for _, e := range x.byHash {
		switch e.rec.Result.Status {
		case domain.StatusApproved:
			s.Approved++
		case domain.StatusApprovedWithConditions:
			s.ApprovedWithConditions++
		case domain.StatusRejected:
			s.Rejected++
		}
		s.ByRisk[e.rec.Result.RiskTier]++
		s.ByOrigin[e.rec.Origin]++
	}
	return s
}
