// Package storage provides the SQLite-backed fallback audit log.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/infrastructure/storage/migrations"
	"InvoiceLedger/internal/ports"
)

// SQLiteStore is an append-only log of FALLBACK audit records keyed by
// content hash, with invoice id as secondary index. Promotions to the
// remote ledger are recorded in a separate table; rows are never updated.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.FallbackStore = (*SQLiteStore)(nil)

// OpenSQLite opens the store at path and applies embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts rec unless its content hash already exists.
func (s *SQLiteStore) Put(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, bool, error) {
	if rec.ContentHash == "" {
		return domain.AuditRecord{}, false, fmt.Errorf("content hash is required")
	}
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return domain.AuditRecord{}, false, fmt.Errorf("marshal result: %w", err)
	}

	query, args, err := sq.Insert("fallback_records").
		Columns("content_hash", "invoice_id", "status", "risk_tier", "committed_at", "payload").
		Values(rec.ContentHash, rec.InvoiceID, string(rec.Result.Status), string(rec.Result.RiskTier), rec.CommittedAt.UTC().UnixNano(), string(payload)).
		Suffix("ON CONFLICT (content_hash) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.AuditRecord{}, false, fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.AuditRecord{}, false, fmt.Errorf("insert fallback record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.AuditRecord{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		existing, ok, err := s.ByHash(ctx, rec.ContentHash)
		if err != nil {
			return domain.AuditRecord{}, false, err
		}
		if !ok {
			return domain.AuditRecord{}, false, fmt.Errorf("record %s vanished after conflict", rec.ContentHash)
		}
		return existing, false, nil
	}
	rec.Origin = domain.OriginFallback
	rec.Receipt = nil
	return rec, true, nil
}

// ByHash returns the record with the given content hash. A promoted record
// comes back with LEDGER origin and its receipt.
func (s *SQLiteStore) ByHash(ctx context.Context, hash string) (domain.AuditRecord, bool, error) {
	records, err := s.query(ctx, selectRecords().Where(sq.Eq{"r.content_hash": hash}))
	if err != nil {
		return domain.AuditRecord{}, false, err
	}
	if len(records) == 0 {
		return domain.AuditRecord{}, false, nil
	}
	return records[0], true, nil
}

// Pending lists records not yet promoted, oldest first.
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	b := selectRecords().Where("p.content_hash IS NULL")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.query(ctx, b)
}

// MarkPromoted records that hash now lives in the remote ledger.
func (s *SQLiteStore) MarkPromoted(ctx context.Context, hash string, receipt domain.Receipt, at time.Time) error {
	query, args, err := sq.Insert("fallback_promotions").
		Columns("content_hash", "sequence", "receipt_id", "promoted_at").
		Values(hash, receipt.Sequence, receipt.ReceiptID, at.UTC().UnixNano()).
		Suffix("ON CONFLICT (content_hash) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build promotion insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert promotion: %w", err)
	}
	return nil
}

// All returns every record in insertion order.
func (s *SQLiteStore) All(ctx context.Context) ([]domain.AuditRecord, error) {
	return s.query(ctx, selectRecords())
}

// ByInvoice returns the records of one invoice in insertion order.
func (s *SQLiteStore) ByInvoice(ctx context.Context, invoiceID string) ([]domain.AuditRecord, error) {
	return s.query(ctx, selectRecords().Where(sq.Eq{"r.invoice_id": invoiceID}))
}

func selectRecords() sq.SelectBuilder {
	return sq.Select("r.content_hash", "r.invoice_id", "r.committed_at", "r.payload", "p.sequence", "p.receipt_id").
		From("fallback_records r").
		LeftJoin("fallback_promotions p ON p.content_hash = r.content_hash").
		OrderBy("r.seq")
}

func (s *SQLiteStore) query(ctx context.Context, b sq.SelectBuilder) ([]domain.AuditRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fallback records: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec         domain.AuditRecord
			committedAt int64
			payload     string
			sequence    sql.NullInt64
			receiptID   sql.NullString
		)
		if err := rows.Scan(&rec.ContentHash, &rec.InvoiceID, &committedAt, &payload, &sequence, &receiptID); err != nil {
			return nil, fmt.Errorf("scan fallback record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", rec.ContentHash, err)
		}
		rec.CommittedAt = time.Unix(0, committedAt).UTC()
		rec.Origin = domain.OriginFallback
		if sequence.Valid && receiptID.Valid {
			rec.Origin = domain.OriginLedger
			rec.Receipt = &domain.Receipt{Sequence: sequence.Int64, ReceiptID: receiptID.String}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
