package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"InvoiceLedger/internal/usecase"
)

const (
	correlationHeader     = "X-Correlation-Id"
	defaultMaxUploadBytes = 10 << 20
)

type ctxKey int

const (
	corrIDKey ctxKey = iota
	loggerKey
)

// Options tunes the HTTP surface.
type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handler serves the invoice API over the use case service.
type Handler struct {
	svc       *usecase.Service
	logger    *slog.Logger
	maxUpload int64
}

// NewRouter mounts every route on a chi router.
func NewRouter(svc *usecase.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	h := &Handler{svc: svc, logger: logger, maxUpload: maxUpload}

	r := chi.NewRouter()
	r.Use(h.correlate)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", h.health)
	r.Get("/stats", h.stats)
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Post("/extract", h.extract)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
		r.Get("/{id}/explanation", h.explanation)
	})
	return r
}

// correlate attaches a correlation id and a request logger, then logs the
// outcome of the request.
func (h *Handler) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get(correlationHeader)
		if corrID == "" {
			corrID = uuid.NewString()
		}
		w.Header().Set(correlationHeader, corrID)

		log := h.logger.With("corrId", corrID)
		ctx := context.WithValue(r.Context(), corrIDKey, corrID)
		ctx = context.WithValue(ctx, loggerKey, log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		log.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func corrIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(corrIDKey).(string)
	return id
}

func (h *Handler) loggerFrom(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return log
	}
	return h.logger
}
