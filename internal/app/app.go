package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"InvoiceLedger/internal/audit"
	"InvoiceLedger/internal/config"
	"InvoiceLedger/internal/decision"
	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/extract"
	"InvoiceLedger/internal/infrastructure/erp"
	"InvoiceLedger/internal/infrastructure/ledgerapi"
	"InvoiceLedger/internal/infrastructure/llm"
	"InvoiceLedger/internal/infrastructure/ocr"
	"InvoiceLedger/internal/infrastructure/parser"
	"InvoiceLedger/internal/infrastructure/reference"
	"InvoiceLedger/internal/infrastructure/scheduler"
	"InvoiceLedger/internal/infrastructure/storage"
	"InvoiceLedger/internal/infrastructure/telegram"
	"InvoiceLedger/internal/ledger"
	"InvoiceLedger/internal/logging"
	"InvoiceLedger/internal/ports"
	"InvoiceLedger/internal/scoring"
	"InvoiceLedger/internal/telemetry"
	"InvoiceLedger/internal/transport/httpapi"
	"InvoiceLedger/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	service    *usecase.Service
	reconciler *usecase.Reconciler
	server     *http.Server
	closers    []func(context.Context) error
}

// New builds every component from cfg and restores the audit index.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (_ *Application, err error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger.With("component", "app")}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	ref, err := a.loadReference(ctx)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Fallback.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create fallback dir: %w", err)
		}
	}
	store, err := storage.OpenSQLite(ctx, cfg.Fallback.Path)
	if err != nil {
		return nil, fmt.Errorf("open fallback store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	var remote ports.Ledger
	if cfg.Ledger.Endpoint != "" {
		remote = ledgerapi.NewClient(cfg.Ledger.Endpoint, cfg.Ledger.APIKey, cfg.Ledger.CommitCeiling)
	} else {
		a.logger.Warn("no ledger endpoint configured, using in-process ledger")
		remote = ledgerapi.NewMemory()
	}

	client, err := ledger.NewClient(ledger.Config{
		AttemptTimeout: cfg.Ledger.AttemptTimeout,
		MaxAttempts:    cfg.Ledger.MaxAttempts,
		InitialBackoff: cfg.Ledger.InitialBackoff,
		MaxBackoff:     cfg.Ledger.MaxBackoff,
		CommitCeiling:  cfg.Ledger.CommitCeiling,
	}, ledger.Deps{Remote: remote, Fallback: store, Logger: baseLogger})
	if err != nil {
		return nil, fmt.Errorf("build ledger client: %w", err)
	}

	index := audit.NewIndex()
	restored, err := usecase.Restore(ctx, index, client, store, remote, a.logger)
	if err != nil {
		return nil, fmt.Errorf("restore audit index: %w", err)
	}
	a.logger.Info("audit index restored", "records", restored)

	engine, err := decision.NewEngine(decision.Thresholds{
		Approve: cfg.Decision.ApproveThreshold,
		Reject:  cfg.Decision.RejectThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("build decision engine: %w", err)
	}

	rules := scoring.Rules{
		MaxInvoiceAge:          cfg.Scoring.MaxInvoiceAge,
		MaxFutureSkew:          cfg.Scoring.MaxFutureSkew,
		HighValueAmount:        domain.FromFloat(cfg.Scoring.HighValueAmount),
		NearDuplicateWindow:    cfg.Scoring.NearDuplicateWindow,
		NearDuplicateTolerance: cfg.Scoring.NearDuplicateTolerance,
		LineItemTolerance:      cfg.Scoring.LineItemTolerance,
		ZScoreLimit:            cfg.Scoring.ZScoreLimit,
	}

	html := parser.NewHTMLExtractor(nil)
	extractors := extract.NewRegistry()
	extractors.Register(extract.TextExtractor{})
	extractors.Register(html)
	if cfg.OCR.Endpoint != "" && cfg.OCR.APIKey != "" {
		recognizer, err := ocr.NewAzureRecognizer(cfg.OCR.Endpoint, cfg.OCR.APIKey)
		if err != nil {
			return nil, fmt.Errorf("build ocr client: %w", err)
		}
		extractors.Register(&extract.ImageExtractor{OCR: recognizer})
	}

	var explainer ports.Explainer
	if cfg.Explain.APIKey != "" {
		explainer = llm.NewExplainer(llm.Config{
			Endpoint:     cfg.Explain.Endpoint,
			Model:        cfg.Explain.Model,
			APIKey:       cfg.Explain.APIKey,
			SystemPrompt: cfg.Explain.SystemPrompt,
			Timeout:      cfg.Explain.Timeout,
		})
	}

	var notifier ports.Notifier
	if cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	a.service, err = usecase.NewService(usecase.ServiceDeps{
		Runner:              scoring.NewRunner(rules, baseLogger),
		Engine:              engine,
		Ledger:              client,
		Index:               index,
		Reference:           ref,
		Extractors:          extractors,
		Fetcher:             html,
		Explainer:           explainer,
		Notifier:            notifier,
		Logger:              baseLogger.With("component", "service"),
		ExplainTimeout:      cfg.Explain.Timeout,
		NearDuplicateWindow: cfg.Scoring.NearDuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}

	a.reconciler = usecase.NewReconciler(
		scheduler.NewIntervalScheduler(cfg.Reconcile.Interval),
		client,
		index,
		cfg.Reconcile.BatchSize,
		baseLogger.With("component", "reconciler"),
	)

	a.server = &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(a.service, httpapi.Options{
			RequestTimeout: cfg.HTTP.RequestTimeout,
			MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
			Logger:         baseLogger.With("component", "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// loadReference reads the YAML file and, when configured, the ERP database.
// ERP rows take precedence over the file.
func (a *Application) loadReference(ctx context.Context) (*domain.Reference, error) {
	var chain reference.Chain
	if path := a.cfg.Reference.Path; path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("reference file not found", "path", path)
		} else {
			chain = append(chain, reference.NewFileSource(path))
		}
	}
	if dsn := a.cfg.Reference.ERPDSN; dsn != "" {
		source, err := erp.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("open erp source: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return source.Close() })
		chain = append(chain, source)
	}

	ref, err := chain.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	if ref == nil {
		a.logger.Warn("no reference data loaded, vendor checks will degrade")
		return nil, nil
	}
	a.logger.Info("reference data loaded",
		"vendors", len(ref.Vendors),
		"blacklist", len(ref.Blacklist),
		"purchase_orders", len(ref.PurchaseOrders),
	)
	return ref, nil
}

// Run serves HTTP and runs the reconciliation sweep until ctx is cancelled,
// then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.reconciler.Start(gctx); err != nil {
			return fmt.Errorf("start reconciler: %w", err)
		}
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
		if err := a.reconciler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("reconciler stop", "error", err)
		}
		if err := a.service.Wait(shutdownCtx); err != nil {
			a.logger.Warn("pending follow-ups abandoned", "error", err)
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := a.close(closeCtx); cerr != nil {
		a.logger.Warn("close resources", "error", cerr)
	}
	return err
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

func (a *Application) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
