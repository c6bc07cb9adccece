package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"InvoiceLedger/internal/audit"
	"InvoiceLedger/internal/decision"
	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/extract"
	"InvoiceLedger/internal/infrastructure/ledgerapi"
	"InvoiceLedger/internal/infrastructure/storage"
	"InvoiceLedger/internal/ledger"
	"InvoiceLedger/internal/scoring"
	"InvoiceLedger/internal/usecase"
)

var testNow = time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

const cleanBody = `{"invoice_id":"INV-100","vendor_name":"Acme Corp","tax_id":"12-3456789","amount":"1500.00","date":"2026-10-14"}`

func newServer(t *testing.T) (*httptest.Server, *ledgerapi.Memory) {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fallback.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	remote := ledgerapi.NewMemory()
	now := func() time.Time { return testNow }
	client, err := ledger.NewClient(ledger.Config{
		AttemptTimeout: 50 * time.Millisecond,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		CommitCeiling:  300 * time.Millisecond,
	}, ledger.Deps{Remote: remote, Fallback: store, Now: now})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	engine, err := decision.NewEngine(decision.DefaultThresholds())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	registry := extract.NewRegistry()
	registry.Register(extract.TextExtractor{})

	svc, err := usecase.NewService(usecase.ServiceDeps{
		Runner: scoring.NewRunner(scoring.DefaultRules(), nil),
		Engine: engine,
		Ledger: client,
		Index:  audit.NewIndex(),
		Reference: &domain.Reference{
			Vendors: []domain.Vendor{{Name: "Acme Corp", TaxID: "12-3456789", CreditLimit: domain.FromFloat(50000), Status: "approved", Category: "supplies"}},
		},
		Extractors: registry,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Wait(ctx)
	})

	srv := httptest.NewServer(NewRouter(svc, Options{RequestTimeout: 5 * time.Second}))
	t.Cleanup(srv.Close)
	return srv, remote
}

func do(t *testing.T, req *http.Request, into any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s response: %v", req.URL.Path, err)
		}
	}
	return resp
}

func post(t *testing.T, url, contentType, body string, into any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	return do(t, req, into)
}

func get(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return do(t, req, into)
}

func TestSubmitAndResubmit(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	var first decisionResponse
	resp := post(t, srv.URL+"/invoices", "application/json", cleanBody, &first)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get(correlationHeader) == "" {
		t.Fatalf("expected a generated correlation id")
	}
	if first.Status != domain.StatusApproved || first.Origin != domain.OriginLedger || first.Receipt == nil || len(first.Findings) != 4 {
		t.Fatalf("unexpected decision: %+v", first)
	}

	var second decisionResponse
	resp = post(t, srv.URL+"/invoices", "application/json", cleanBody, &second)
	if resp.StatusCode != http.StatusOK || !second.Duplicate {
		t.Fatalf("expected 200 duplicate, got %d %+v", resp.StatusCode, second)
	}
	if second.ContentHash != first.ContentHash || !second.CommittedAt.Equal(first.CommittedAt) {
		t.Fatalf("expected first record back, got %+v", second)
	}

	var history listResponse
	if resp := get(t, srv.URL+"/invoices/INV-100/history", &history); resp.StatusCode != http.StatusOK || history.Count != 1 {
		t.Fatalf("expected one history record, got %d %+v", resp.StatusCode, history)
	}
}

func TestSubmitRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	srv, remote := newServer(t)
	cases := map[string]string{
		"blank id":    `{"invoice_id":"  ","vendor_name":"Acme Corp","amount":10}`,
		"bad amount":  `{"invoice_id":"INV-1","vendor_name":"Acme Corp","amount":"ten dollars"}`,
		"broken json": `{"invoice_id":`,
	}
	for name, body := range cases {
		var out errorBody
		resp := post(t, srv.URL+"/invoices", "application/json", body, &out)
		if resp.StatusCode != http.StatusBadRequest || out.Code != "INVALID_SUBMISSION" {
			t.Fatalf("%s: expected 400 INVALID_SUBMISSION, got %d %+v", name, resp.StatusCode, out)
		}
	}
	if records, _ := remote.Records(context.Background()); len(records) != 0 {
		t.Fatalf("expected nothing on the ledger, got %d", len(records))
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	post(t, srv.URL+"/invoices", "application/json", cleanBody, nil)
	post(t, srv.URL+"/invoices", "application/json",
		`{"invoice_id":"INV-200","vendor_name":"Acme Corp","tax_id":"","amount":-5,"date":"2026-10-14"}`, nil)

	var rec domain.AuditRecord
	if resp := get(t, srv.URL+"/invoices/INV-100", &rec); resp.StatusCode != http.StatusOK || rec.InvoiceID != "INV-100" {
		t.Fatalf("expected INV-100, got %d %+v", resp.StatusCode, rec)
	}

	var list listResponse
	if resp := get(t, srv.URL+"/invoices?status=rejected", &list); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if list.Count != 1 || list.Records[0].InvoiceID != "INV-200" {
		t.Fatalf("expected only INV-200 rejected, got %+v", list)
	}

	var bad errorBody
	if resp := get(t, srv.URL+"/invoices?risk=extreme", &bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown risk, got %d", resp.StatusCode)
	}

	var missing errorBody
	if resp := get(t, srv.URL+"/invoices/INV-404", &missing); resp.StatusCode != http.StatusNotFound || missing.Code != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %+v", resp.StatusCode, missing)
	}

	var stats usecase.Overview
	if resp := get(t, srv.URL+"/stats", &stats); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if stats.Total != 2 || stats.Approved != 1 || stats.Rejected != 1 {
		t.Fatalf("unexpected stats: %+v", stats.Stats)
	}

	var exp usecase.Explanation
	if resp := get(t, srv.URL+"/invoices/INV-200/explanation", &exp); resp.StatusCode != http.StatusOK || exp.InvoiceID != "INV-200" {
		t.Fatalf("expected explanation for INV-200, got %d %+v", resp.StatusCode, exp)
	}
}

func TestHealthReportsLedgerState(t *testing.T) {
	t.Parallel()

	srv, remote := newServer(t)
	var h healthResponse
	if resp := get(t, srv.URL+"/health", &h); resp.StatusCode != http.StatusOK || h.Status != "ok" || !h.Ledger.Reachable {
		t.Fatalf("expected ok, got %d %+v", resp.StatusCode, h)
	}

	remote.SetOffline(true)
	if resp := get(t, srv.URL+"/health", &h); resp.StatusCode != http.StatusOK || h.Status != "degraded" || h.Ledger.Reachable {
		t.Fatalf("expected degraded, got %d %+v", resp.StatusCode, h)
	}

	var out decisionResponse
	resp := post(t, srv.URL+"/invoices", "application/json", cleanBody, &out)
	if resp.StatusCode != http.StatusCreated || out.Origin != domain.OriginFallback {
		t.Fatalf("expected FALLBACK commit while offline, got %d %+v", resp.StatusCode, out)
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	doc := "Acme Corp\nInvoice #: INV-2026-042\nInvoice Date: 2026-10-14\nTax ID: 12-3456789\nTotal: 1,500.00\n"

	var out domain.Extraction
	if resp := post(t, srv.URL+"/invoices/extract", "text/plain; charset=utf-8", doc, &out); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.Submission.InvoiceID != "INV-2026-042" || out.Confidence != 1 {
		t.Fatalf("unexpected extraction: %+v", out)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "invoice.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(doc))
	_ = mw.Close()
	out = domain.Extraction{}
	if resp := post(t, srv.URL+"/invoices/extract", mw.FormDataContentType(), body.String(), &out); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for multipart upload, got %d", resp.StatusCode)
	}
	if out.Submission.TaxID != "12-3456789" {
		t.Fatalf("unexpected multipart extraction: %+v", out)
	}

	var unsupported errorBody
	if resp := post(t, srv.URL+"/invoices/extract", "application/zip", "PK\x03\x04", &unsupported); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d %+v", resp.StatusCode, unsupported)
	}

	var empty errorBody
	if resp := post(t, srv.URL+"/invoices/extract", "text/plain", "", &empty); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty document, got %d", resp.StatusCode)
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/invoices/INV-1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(correlationHeader, "corr-123")
	var out errorBody
	resp := do(t, req, &out)
	if resp.Header.Get(correlationHeader) != "corr-123" || out.CorrID != "corr-123" {
		t.Fatalf("expected corr-123 echoed, got header %q body %q", resp.Header.Get(correlationHeader), out.CorrID)
	}
}
