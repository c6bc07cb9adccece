package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/extract"
	"InvoiceLedger/internal/ports"
)

const maxDocumentBytes = 5 << 20

// HTMLExtractor reads invoices rendered as HTML: labelled table rows,
// definition lists, data-field attributes, and a line-item table.
type HTMLExtractor struct {
	client *http.Client
}

var _ ports.Extractor = (*HTMLExtractor)(nil)

// NewHTMLExtractor wires an HTTP client used by Fetch.
func NewHTMLExtractor(client *http.Client) *HTMLExtractor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLExtractor{client: client}
}

func (h *HTMLExtractor) MediaTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Extract parses an HTML document.
func (h *HTMLExtractor) Extract(_ context.Context, doc []byte) (domain.Extraction, error) {
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("parse document: %w", err)
	}
	out := extractDocument(parsed)
	out.MediaType = "text/html"
	return out, nil
}

// Fetch downloads an invoice page and extracts it.
func (h *HTMLExtractor) Fetch(ctx context.Context, pageURL string) (domain.Extraction, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Extraction{}, fmt.Errorf("invalid invoice url %q", pageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "InvoiceLedger/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Extraction{}, fmt.Errorf("invoice page returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("read document: %w", err)
	}
	return h.Extract(ctx, body)
}

func extractDocument(doc *goquery.Document) domain.Extraction {
	labelled := map[string]string{}

	doc.Find("[data-field]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("data-field")
		setOnce(labelled, strings.ToLower(strings.TrimSpace(name)), text(s))
	})
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() != 2 {
			return
		}
		if field := fieldForLabel(text(cells.First())); field != "" {
			setOnce(labelled, field, text(cells.Last()))
		}
	})
	doc.Find("dl > dt").Each(func(_ int, dt *goquery.Selection) {
		if field := fieldForLabel(text(dt)); field != "" {
			setOnce(labelled, field, text(dt.Next()))
		}
	})

	// Anything the markup did not label is looked up in the visible text.
	fromText := extract.FieldsFromText(visibleText(doc))
	fields := extract.Fields{
		InvoiceID:  pick(labelled["invoice_id"], fromText.InvoiceID),
		VendorName: pick(labelled["vendor_name"], fromText.VendorName),
		TaxID:      pick(labelled["tax_id"], fromText.TaxID),
		Amount:     pick(labelled["amount"], fromText.Amount),
		Date:       pick(extract.NormalizeDate(labelled["date"]), fromText.Date),
		Notes:      labelled["notes"],
	}
	out := extract.Build(fields)
	out.Submission.LineItems = lineItems(doc)
	return out
}

var labelFields = []struct {
	field  string
	labels []string
}{
	{"invoice_id", []string{"invoice #", "invoice no", "invoice number", "invoice id", "inv #"}},
	{"vendor_name", []string{"vendor", "supplier", "from", "seller"}},
	{"tax_id", []string{"tax id", "ein", "federal id"}},
	{"amount", []string{"total due", "amount due", "balance due", "grand total", "total", "amount"}},
	{"date", []string{"invoice date", "date"}},
	{"notes", []string{"notes", "memo"}},
}

func fieldForLabel(label string) string {
	label = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(label), ":"))
	for _, lf := range labelFields {
		for _, l := range lf.labels {
			if label == l {
				return lf.field
			}
		}
	}
	return ""
}

// lineItems reads rows of table.line-items as description, quantity, unit price.
func lineItems(doc *goquery.Document) []domain.LineItem {
	var items []domain.LineItem
	doc.Find("table.line-items tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		qty, err := strconv.ParseFloat(strings.ReplaceAll(text(cells.Eq(1)), ",", ""), 64)
		if err != nil {
			return
		}
		price, err := domain.ParseMoney(text(cells.Eq(2)))
		if err != nil {
			return
		}
		items = append(items, domain.LineItem{
			Description: text(cells.Eq(0)),
			Quantity:    qty,
			UnitPrice:   price,
		})
	})
	return items
}

// visibleText renders block elements on separate lines.
func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("body").Find("h1, h2, h3, p, div, li, tr, dt, dd, span, address").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 && goquery.NodeName(s) != "tr" {
			return
		}
		b.WriteString(text(s))
		b.WriteByte('\n')
	})
	return b.String()
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func setOnce(m map[string]string, key, value string) {
	if key == "" || value == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func pick(first, second string) string {
	if strings.TrimSpace(first) != "" {
		return first
	}
	return second
}
