// Package ledger commits validation results to the remote ledger and falls
// back to a local store when the ledger cannot be reached in time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// Config bounds the remote write.
type Config struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CommitCeiling  time.Duration
}

// DefaultConfig returns 3 attempts of 2s each inside a 5s ceiling.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 2 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		CommitCeiling:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.CommitCeiling <= 0 {
		c.CommitCeiling = d.CommitCeiling
	}
	return c
}

// Deps wires the client's collaborators. Remote may be nil, in which case
// every commit goes to the fallback store.
type Deps struct {
	Remote   ports.Ledger
	Fallback ports.FallbackStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// Health is the last observed reachability of the remote ledger.
type Health struct {
	Reachable bool      `json:"reachable"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Client commits ValidationResults idempotently by content hash.
type Client struct {
	remote   ports.Ledger
	fallback ports.FallbackStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
	locks    *keyedMutex

	mu        sync.RWMutex
	committed map[string]domain.AuditRecord
	health    Health
}

// NewClient builds a Client. A fallback store is mandatory.
func NewClient(cfg Config, deps Deps) (*Client, error) {
	if deps.Fallback == nil {
		return nil, errors.New("ledger client: fallback store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		remote:    deps.Remote,
		fallback:  deps.Fallback,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "ledger"),
		now:       now,
		tracer:    otel.Tracer("InvoiceLedger/ledger"),
		locks:     newKeyedMutex(),
		committed: map[string]domain.AuditRecord{},
	}, nil
}

// Commit records result in the audit trail. A result whose content hash is
// already known returns the existing record. Commit returns within the
// configured ceiling plus the local fallback write, whatever the remote
// ledger does.
func (c *Client) Commit(ctx context.Context, result domain.ValidationResult) (rec domain.AuditRecord, created bool, err error) {
	hash := ContentHash(result.Submission)
	ctx, span := c.tracer.Start(ctx, "ledger.commit", trace.WithAttributes(
		attribute.String("invoice.id", result.InvoiceID),
		attribute.String("ledger.content_hash", hash),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("ledger.origin", string(rec.Origin)), attribute.Bool("ledger.created", created))
		}
		span.End()
	}()

	unlock := c.locks.Lock(result.InvoiceID)
	defer unlock()

	if existing, ok, err := c.lookup(ctx, hash); err != nil {
		return domain.AuditRecord{}, false, err
	} else if ok {
		return existing, false, nil
	}

	rec = domain.AuditRecord{
		InvoiceID:   result.InvoiceID,
		Result:      result,
		CommittedAt: c.now().UTC(),
		ContentHash: hash,
	}

	receipt, remoteErr := c.appendRemote(ctx, rec)
	if remoteErr == nil {
		rec.Origin = domain.OriginLedger
		rec.Receipt = &receipt
		c.remember(rec)
		return rec, true, nil
	}
	c.logger.Warn("ledger unavailable, committing to fallback", "invoice_id", rec.InvoiceID, "hash", hash, "error", remoteErr)

	rec.Origin = domain.OriginFallback
	stored, created, err := c.fallback.Put(context.WithoutCancel(ctx), rec)
	if err != nil {
		return domain.AuditRecord{}, false, fmt.Errorf("fallback commit: %w", err)
	}
	c.remember(stored)
	return stored, created, nil
}

func (c *Client) lookup(ctx context.Context, hash string) (domain.AuditRecord, bool, error) {
	c.mu.RLock()
	rec, ok := c.committed[hash]
	c.mu.RUnlock()
	if ok {
		return rec, true, nil
	}
	rec, ok, err := c.fallback.ByHash(context.WithoutCancel(ctx), hash)
	if err != nil {
		return domain.AuditRecord{}, false, fmt.Errorf("fallback lookup: %w", err)
	}
	if ok {
		c.remember(rec)
		return rec, true, nil
	}
	return c.lookupRemote(ctx, hash)
}

// lookupRemote asks the ledger for a hash this process has not seen, e.g.
// after a restart that could not list the ledger. An unreachable ledger
// counts as a miss; the append that follows handles the outage.
func (c *Client) lookupRemote(ctx context.Context, hash string) (domain.AuditRecord, bool, error) {
	if c.remote == nil {
		return domain.AuditRecord{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	rec, ok, err := c.remote.Lookup(ctx, hash)
	if err != nil {
		c.logger.Debug("ledger lookup failed", "hash", hash, "error", err)
		return domain.AuditRecord{}, false, nil
	}
	if !ok {
		return domain.AuditRecord{}, false, nil
	}
	rec.Origin = domain.OriginLedger
	c.remember(rec)
	return rec, true, nil
}

// appendRemote runs the bounded retry loop against the remote ledger.
func (c *Client) appendRemote(ctx context.Context, rec domain.AuditRecord) (domain.Receipt, error) {
	if c.remote == nil {
		return domain.Receipt{}, errors.New("no remote ledger configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommitCeiling)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2

	entry := rec.Entry()
	attempt := 0
	receipt, err := backoff.Retry(ctx, func() (domain.Receipt, error) {
		attempt++
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancelAttempt()
		r, err := c.remote.Append(attemptCtx, entry)
		if errors.Is(err, ports.ErrLedgerRejected) {
			return domain.Receipt{}, backoff.Permanent(err)
		}
		return r, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(c.cfg.CommitCeiling),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("ledger append failed, retrying", "invoice_id", rec.InvoiceID, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	c.observe(err)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("append after %d attempt(s): %w", attempt, err)
	}
	return receipt, nil
}

// Probe pings the remote ledger and updates the health state.
func (c *Client) Probe(ctx context.Context) error {
	if c.remote == nil {
		err := errors.New("no remote ledger configured")
		c.observe(err)
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	err := c.remote.Ping(ctx)
	c.observe(err)
	return err
}

// Health reports the last observed reachability.
func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Known seeds the duplicate cache with records recovered at startup.
func (c *Client) Known(records []domain.AuditRecord) {
	for _, rec := range records {
		c.remember(rec)
	}
}

func (c *Client) remember(rec domain.AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.committed[rec.ContentHash]; ok && prev.Origin == domain.OriginLedger && rec.Origin != domain.OriginLedger {
		return
	}
	c.committed[rec.ContentHash] = rec
}

func (c *Client) observe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.CheckedAt = c.now().UTC()
	if err != nil {
		c.health.Reachable = false
		c.health.LastError = err.Error()
		return
	}
	c.health.Reachable = true
	c.health.LastError = ""
}
