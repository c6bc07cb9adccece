package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// Client talks to the remote ledger service over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Ledger = (*Client)(nil)

// NewClient creates a reusable HTTP client. Per-attempt deadlines come from
// the caller's context; timeout only guards against a missing one.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Append posts an entry. The content hash doubles as idempotency key so a
// retried append returns the original receipt.
func (c *Client) Append(ctx context.Context, entry domain.LedgerEntry) (domain.Receipt, error) {
	var receipt domain.Receipt
	headers := map[string]string{"Idempotency-Key": entry.ContentHash}
	if err := c.do(ctx, http.MethodPost, "/records", headers, entry, &receipt); err != nil {
		return domain.Receipt{}, err
	}
	if receipt.ReceiptID == "" {
		return domain.Receipt{}, fmt.Errorf("ledger returned empty receipt")
	}
	return receipt, nil
}

// Lookup fetches the record stored under hash. A 404 means the ledger has
// never seen it.
func (c *Client) Lookup(ctx context.Context, hash string) (domain.AuditRecord, bool, error) {
	var rec domain.AuditRecord
	err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(hash), nil, nil, &rec)
	if errors.Is(err, errRecordNotFound) {
		return domain.AuditRecord{}, false, nil
	}
	if err != nil {
		return domain.AuditRecord{}, false, err
	}
	rec.Origin = domain.OriginLedger
	return rec, true, nil
}

// Records lists every record held by the ledger.
func (c *Client) Records(ctx context.Context) ([]domain.AuditRecord, error) {
	var resp struct {
		Records []domain.AuditRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/records", nil, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Records {
		resp.Records[i].Origin = domain.OriginLedger
	}
	return resp.Records, nil
}

// Ping checks the ledger health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, payload any, v any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w: %v", ports.ErrLedgerRejected, errRecordNotFound, err)
		}
		if permanent(resp.StatusCode) {
			return fmt.Errorf("%w: %v", ports.ErrLedgerRejected, err)
		}
		return err
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// permanent reports client errors that a retry cannot fix.
func permanent(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
