package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"InvoiceLedger/internal/audit"
	"InvoiceLedger/internal/decision"
	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/extract"
	"InvoiceLedger/internal/ledger"
	"InvoiceLedger/internal/ports"
	"InvoiceLedger/internal/scoring"
)

const (
	defaultExplainTimeout = 10 * time.Second
	defaultAlertTimeout   = 5 * time.Second
	explanationPending    = "pending"
)

// PageFetcher downloads and reads an invoice published as a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (domain.Extraction, error)
}

// ServiceDeps wires the pipeline components and driven adapters.
type ServiceDeps struct {
	Runner     *scoring.Runner
	Engine     *decision.Engine
	Ledger     *ledger.Client
	Index      *audit.Index
	Reference  *domain.Reference
	Extractors *extract.Registry
	Fetcher    PageFetcher
	Explainer  ports.Explainer
	Notifier   ports.Notifier
	Logger     *slog.Logger

	ExplainTimeout      time.Duration
	NearDuplicateWindow time.Duration
	Now                 func() time.Time
}

// Submission is what a caller gets back for one submit call.
type Submission struct {
	Record  domain.AuditRecord
	Created bool
}

// Explanation is the human-readable text attached to a decision.
type Explanation struct {
	InvoiceID   string `json:"invoice_id"`
	ContentHash string `json:"content_hash"`
	Text        string `json:"text"`
	Source      string `json:"source"`
}

// Overview combines index counts with ledger reachability.
type Overview struct {
	audit.Stats
	Ledger ledger.Health `json:"ledger"`
}

// Service is the invoice validation use case.
type Service struct {
	runner     *scoring.Runner
	engine     *decision.Engine
	ledger     *ledger.Client
	index      *audit.Index
	reference  *domain.Reference
	extractors *extract.Registry
	fetcher    PageFetcher
	explainer  ports.Explainer
	notifier   ports.Notifier
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	explainTimeout time.Duration
	window         time.Duration

	mu           sync.RWMutex
	explanations map[string]Explanation
	inflight     map[string]bool
	wg           sync.WaitGroup
}

// NewService validates deps and builds the service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Runner == nil || deps.Engine == nil || deps.Ledger == nil || deps.Index == nil {
		return nil, errors.New("usecase: runner, engine, ledger and index are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	timeout := deps.ExplainTimeout
	if timeout <= 0 {
		timeout = defaultExplainTimeout
	}
	window := deps.NearDuplicateWindow
	if window <= 0 {
		window = scoring.DefaultRules().NearDuplicateWindow
	}
	extractors := deps.Extractors
	if extractors == nil {
		extractors = extract.NewRegistry()
	}
	return &Service{
		runner:         deps.Runner,
		engine:         deps.Engine,
		ledger:         deps.Ledger,
		index:          deps.Index,
		reference:      deps.Reference,
		extractors:     extractors,
		fetcher:        deps.Fetcher,
		explainer:      deps.Explainer,
		notifier:       deps.Notifier,
		logger:         logger,
		tracer:         otel.Tracer("InvoiceLedger/usecase"),
		now:            now,
		explainTimeout: timeout,
		window:         window,
		explanations:   map[string]Explanation{},
		inflight:       map[string]bool{},
	}, nil
}

// Submit scores, decides and commits one submission. Only a structurally
// unusable submission fails; ledger trouble ends in a FALLBACK record.
func (s *Service) Submit(ctx context.Context, sub domain.InvoiceSubmission) (out Submission, err error) {
	sub.InvoiceID = strings.TrimSpace(sub.InvoiceID)
	ctx, span := s.tracer.Start(ctx, "invoice.submit", trace.WithAttributes(attribute.String("invoice.id", sub.InvoiceID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("invoice.status", string(out.Record.Result.Status)),
				attribute.Int("invoice.score", out.Record.Result.Score),
				attribute.String("ledger.origin", string(out.Record.Origin)),
			)
		}
		span.End()
	}()

	now := s.now().UTC()
	eval, err := s.runner.Run(sub, scoring.Input{
		Reference: s.reference,
		Prior:     s.index.Prior(sub.InvoiceID),
		Recent:    s.recent(now),
		Now:       now,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("score invoice: %w", err)
	}
	result := s.engine.Decide(eval)

	rec, created, err := s.ledger.Commit(ctx, result)
	if err != nil {
		return Submission{}, fmt.Errorf("commit decision: %w", err)
	}
	s.index.Add(rec)

	s.logger.Info("invoice decided",
		"invoice_id", rec.InvoiceID,
		"status", rec.Result.Status,
		"score", rec.Result.Score,
		"risk", rec.Result.RiskTier,
		"origin", rec.Origin,
		"created", created,
	)
	if created {
		s.followUp(rec)
	}
	return Submission{Record: rec, Created: created}, nil
}

func (s *Service) recent(now time.Time) []scoring.Recent {
	records := s.index.Since(now.Add(-s.window))
	out := make([]scoring.Recent, len(records))
	for i, rec := range records {
		out[i] = scoring.Recent{Submission: rec.Result.Submission, SeenAt: rec.CommittedAt}
	}
	return out
}

// followUp runs the explanation and alert calls off the request path.
func (s *Service) followUp(rec domain.AuditRecord) {
	s.mu.Lock()
	s.inflight[rec.ContentHash] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.explain(rec)
	}()

	if rec.Result.RiskTier == domain.RiskHigh && s.notifier != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), defaultAlertTimeout)
			defer cancel()
			if err := s.notifier.NotifyHighRisk(ctx, rec); err != nil {
				s.logger.Warn("high risk alert failed", "invoice_id", rec.InvoiceID, "error", err)
			}
		}()
	}
}

func (s *Service) explain(rec domain.AuditRecord) {
	exp := Explanation{InvoiceID: rec.InvoiceID, ContentHash: rec.ContentHash}
	if s.explainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.explainTimeout)
		text, err := s.explainer.Explain(ctx, rec.Result)
		cancel()
		if err == nil && strings.TrimSpace(text) != "" {
			exp.Text, exp.Source = strings.TrimSpace(text), "service"
		} else if err != nil {
			s.logger.Warn("explanation unavailable", "invoice_id", rec.InvoiceID, "error", err)
		}
	}
	if exp.Text == "" {
		exp.Text, exp.Source = GenericExplanation(rec.Result), "generic"
	}

	s.mu.Lock()
	s.explanations[rec.ContentHash] = exp
	delete(s.inflight, rec.ContentHash)
	s.mu.Unlock()
}

// Wait blocks until queued explanations and alerts are done or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Explanation returns the text for the latest decision on invoiceID.
func (s *Service) Explanation(invoiceID string) (Explanation, error) {
	rec, err := s.index.Get(strings.TrimSpace(invoiceID))
	if err != nil {
		return Explanation{}, err
	}
	s.mu.RLock()
	exp, ok := s.explanations[rec.ContentHash]
	pending := s.inflight[rec.ContentHash]
	s.mu.RUnlock()
	switch {
	case ok:
		return exp, nil
	case pending:
		return Explanation{InvoiceID: rec.InvoiceID, ContentHash: rec.ContentHash, Text: explanationPending, Source: explanationPending}, nil
	default:
		return Explanation{InvoiceID: rec.InvoiceID, ContentHash: rec.ContentHash, Text: GenericExplanation(rec.Result), Source: "generic"}, nil
	}
}

// GenericExplanation summarises a decision without the explanation service.
func GenericExplanation(r domain.ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s was %s with a score of %d/100 and %s fraud risk.",
		r.InvoiceID, strings.ToLower(strings.ReplaceAll(string(r.Status), "_", " ")), r.Score, strings.ToLower(string(r.RiskTier)))

	var reasons []string
	for _, sev := range []domain.Severity{domain.SeverityCritical, domain.SeverityWarning} {
		for _, f := range r.Findings {
			if f.Severity == sev && f.Score < f.Budget {
				reasons = append(reasons, f.Reasons...)
			}
		}
	}
	if len(reasons) > 3 {
		reasons = reasons[:3]
	}
	if len(reasons) > 0 {
		b.WriteString(" Main issues: ")
		b.WriteString(strings.Join(reasons, "; "))
		b.WriteString(".")
	}
	return b.String()
}

// Extract reads raw document bytes into best-effort submission fields.
func (s *Service) Extract(ctx context.Context, contentType string, doc []byte) (domain.Extraction, error) {
	if len(doc) == 0 {
		return domain.Extraction{}, &domain.SubmissionError{Field: "document", Reason: "empty"}
	}
	ext, err := s.extractors.Extract(ctx, contentType, doc)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract document: %w", err)
	}
	return ext, nil
}

// ExtractURL reads an invoice page published at pageURL.
func (s *Service) ExtractURL(ctx context.Context, pageURL string) (domain.Extraction, error) {
	if strings.TrimSpace(pageURL) == "" {
		return domain.Extraction{}, &domain.SubmissionError{Field: "url", Reason: "missing"}
	}
	if s.fetcher == nil {
		return domain.Extraction{}, fmt.Errorf("extract page: %w", extract.ErrUnsupportedMediaType)
	}
	ext, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract page: %w", err)
	}
	return ext, nil
}

// Get returns the latest record of an invoice.
func (s *Service) Get(invoiceID string) (domain.AuditRecord, error) {
	return s.index.Get(strings.TrimSpace(invoiceID))
}

// History returns every record of an invoice, oldest first.
func (s *Service) History(invoiceID string) ([]domain.AuditRecord, error) {
	history := s.index.History(strings.TrimSpace(invoiceID))
	if len(history) == 0 {
		return nil, domain.ErrNotFound
	}
	return history, nil
}

// List returns records matching f in commit order.
func (s *Service) List(f audit.Filter) []domain.AuditRecord {
	return s.index.List(f)
}

// Stats reports counts and the last known ledger state.
func (s *Service) Stats() Overview {
	return Overview{Stats: s.index.Stats(), Ledger: s.ledger.Health()}
}

// Health probes the ledger and reports its reachability.
func (s *Service) Health(ctx context.Context) ledger.Health {
	if err := s.ledger.Probe(ctx); err != nil {
		s.logger.Debug("ledger probe failed", "error", err)
	}
	return s.ledger.Health()
}
