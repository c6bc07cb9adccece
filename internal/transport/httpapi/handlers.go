package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"InvoiceLedger/internal/audit"
	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ledger"
)

type decisionResponse struct {
	InvoiceID   string                `json:"invoice_id"`
	Status      domain.Status         `json:"status"`
	Score       int                   `json:"score"`
	RiskTier    domain.RiskTier       `json:"risk_tier"`
	Findings    []domain.StageFinding `json:"findings"`
	Origin      domain.Origin         `json:"origin"`
	Receipt     *domain.Receipt       `json:"receipt,omitempty"`
	ContentHash string                `json:"content_hash"`
	CommittedAt time.Time             `json:"committed_at"`
	Duplicate   bool                  `json:"duplicate"`
}

type listResponse struct {
	Count   int                  `json:"count"`
	Records []domain.AuditRecord `json:"records"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Ledger ledger.Health `json:"ledger"`
}

type extractURLRequest struct {
	URL string `json:"url"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var sub domain.InvoiceSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUpload)).Decode(&sub); err != nil {
		h.writeError(w, r, bodyError(err))
		return
	}

	out, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec := out.Record
	status := http.StatusCreated
	if !out.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, decisionResponse{
		InvoiceID:   rec.InvoiceID,
		Status:      rec.Result.Status,
		Score:       rec.Result.Score,
		RiskTier:    rec.Result.RiskTier,
		Findings:    rec.Result.Findings,
		Origin:      rec.Origin,
		Receipt:     rec.Receipt,
		ContentHash: rec.ContentHash,
		CommittedAt: rec.CommittedAt,
		Duplicate:   !out.Created,
	})
}

func (h *Handler) extract(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxUpload)
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch mediaType {
	case "application/json":
		var req extractURLRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			h.writeError(w, r, bodyError(err))
			return
		}
		out, err := h.svc.ExtractURL(r.Context(), req.URL)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return

	case "multipart/form-data":
		r.Body = body
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.writeError(w, r, err)
				return
			}
			h.writeError(w, r, &domain.SubmissionError{Field: "file", Reason: "missing"})
			return
		}
		defer file.Close()
		doc, err := io.ReadAll(file)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.extractDocument(w, r, header.Header.Get("Content-Type"), doc)
		return
	}

	doc, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.extractDocument(w, r, contentType, doc)
}

func (h *Handler) extractDocument(w http.ResponseWriter, r *http.Request, contentType string, doc []byte) {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(doc)
	}
	out, err := h.svc.Extract(r.Context(), contentType, doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records := h.svc.List(f)
	writeJSON(w, http.StatusOK, listResponse{Count: len(records), Records: records})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.History(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(records), Records: records})
}

func (h *Handler) explanation(w http.ResponseWriter, r *http.Request) {
	exp, err := h.svc.Explanation(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := "ok"
	if !health.Reachable {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Ledger: health})
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var f audit.Filter

	if v := strings.ToUpper(strings.TrimSpace(q.Get("status"))); v != "" {
		switch s := domain.Status(v); s {
		case domain.StatusApproved, domain.StatusApprovedWithConditions, domain.StatusRejected:
			f.Status = s
		default:
			return f, &domain.SubmissionError{Field: "status", Reason: "unknown value " + strconv.Quote(v)}
		}
	}
	if v := strings.ToUpper(strings.TrimSpace(q.Get("risk"))); v != "" {
		switch t := domain.RiskTier(v); t {
		case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
			f.RiskTier = t
		default:
			return f, &domain.SubmissionError{Field: "risk", Reason: "unknown value " + strconv.Quote(v)}
		}
	}
	if v := strings.ToUpper(strings.TrimSpace(q.Get("origin"))); v != "" {
		switch o := domain.Origin(v); o {
		case domain.OriginLedger, domain.OriginFallback:
			f.Origin = o
		default:
			return f, &domain.SubmissionError{Field: "origin", Reason: "unknown value " + strconv.Quote(v)}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &domain.SubmissionError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		f.Limit = n
	}
	return f, nil
}

// bodyError turns a JSON decoding failure into a client error.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.Is(err, domain.ErrInvalidSubmission) || errors.As(err, &tooLarge) {
		return err
	}
	return &domain.SubmissionError{Field: "body", Reason: err.Error()}
}
