package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"InvoiceLedger/internal/domain"
)

var (
	idLabels = []*regexp.Regexp{
		regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?\b|number|id\b)\s*:?\s*([A-Z0-9][A-Z0-9\-_]{2,})`),
		regexp.MustCompile(`(?i)\binv\s*#\s*:?\s*([A-Z0-9][A-Z0-9\-_]{2,})`),
		regexp.MustCompile(`(?i)\b(?:bill|ref(?:erence)?)\s*#\s*:?\s*([A-Z0-9][A-Z0-9\-_]{2,})`),
	}
	idFallback    = regexp.MustCompile(`\b([A-Z]{2,}[-_]\d+)\b`)
	vendorLabel   = regexp.MustCompile(`(?im)^\s*(?:vendor|from|supplier|seller)\s*(?:name)?\s*:\s*(.+?)\s*$`)
	taxLabel      = regexp.MustCompile(`(?i)\b(?:tax\s*id|ein|federal\s*id)\s*(?:#|no\.?)?\s*:?\s*(\d{2}-?\d{7})`)
	amountLabels  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:invoice\s+total|total\s+due|amount\s+due|balance\s+due|grand\s+total)\s*:?\s*\$?\s*([0-9][0-9,]*(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)\btotal\s*:?\s*\$?\s*([0-9][0-9,]*(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)\bamount\s*:?\s*\$?\s*([0-9][0-9,]*(?:\.\d{1,2})?)`),
		regexp.MustCompile(`\$\s*([0-9][0-9,]*\.\d{2})`),
	}
	dateLabel   = regexp.MustCompile(`(?i)(?:invoice\s+)?date\s*:?\s*([0-9A-Za-z,/\- ]{6,20})`)
	isoDate     = regexp.MustCompile(`\b(\d{4})[/-](\d{1,2})[/-](\d{1,2})\b`)
	numericDate = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	wordDate    = regexp.MustCompile(`(?i)\b([A-Z][a-z]{2,8})\.?\s+(\d{1,2}),?\s+(\d{4})\b`)

	companyHints = []string{" inc", " corp", " ltd", " llc", " gmbh", " co.", "&"}
	headerWords  = []string{"invoice", "bill", "receipt", "date", "amount", "total", "page"}
)

// requiredFields are the fields counted towards extraction confidence.
var requiredFields = []string{"invoice_id", "vendor_name", "tax_id", "amount", "date"}

// Fields carries raw values found in a document before normalisation.
type Fields struct {
	InvoiceID  string
	VendorName string
	TaxID      string
	Amount     string
	Date       string
	Notes      string
}

// ParseText finds invoice fields in free text such as OCR output.
func ParseText(text string) domain.Extraction {
	return Build(FieldsFromText(text))
}

// FieldsFromText applies the label and fallback patterns to text.
func FieldsFromText(text string) Fields {
	var f Fields
	for _, re := range idLabels {
		if m := re.FindStringSubmatch(text); m != nil && !isHeaderWord(m[1]) {
			f.InvoiceID = m[1]
			break
		}
	}
	if f.InvoiceID == "" {
		if m := idFallback.FindStringSubmatch(text); m != nil {
			f.InvoiceID = m[1]
		}
	}
	if m := vendorLabel.FindStringSubmatch(text); m != nil {
		f.VendorName = m[1]
	} else {
		f.VendorName = guessVendor(text)
	}
	if m := taxLabel.FindStringSubmatch(text); m != nil {
		f.TaxID = m[1]
	}
	for _, re := range amountLabels {
		if m := re.FindStringSubmatch(text); m != nil {
			f.Amount = m[1]
			break
		}
	}
	if m := dateLabel.FindStringSubmatch(text); m != nil {
		f.Date = NormalizeDate(m[1])
	}
	if f.Date == "" {
		f.Date = NormalizeDate(text)
	}
	return f
}

// Build normalises raw fields into an Extraction and scores confidence as
// the share of required fields that were found.
func Build(f Fields) domain.Extraction {
	sub := domain.InvoiceSubmission{
		InvoiceID:  strings.ToUpper(strings.TrimSpace(f.InvoiceID)),
		VendorName: strings.TrimSpace(f.VendorName),
		TaxID:      normalizeTaxID(f.TaxID),
		Date:       strings.TrimSpace(f.Date),
		Notes:      strings.TrimSpace(f.Notes),
	}
	amountFound := false
	if amt, err := domain.ParseMoney(f.Amount); err == nil && amt > 0 {
		sub.Amount = amt
		amountFound = true
	}

	found := map[string]bool{
		"invoice_id":  sub.InvoiceID != "",
		"vendor_name": sub.VendorName != "",
		"tax_id":      sub.TaxID != "",
		"amount":      amountFound,
		"date":        sub.Date != "",
	}
	out := domain.Extraction{Submission: sub}
	hits := 0
	for _, name := range requiredFields {
		if found[name] {
			hits++
			continue
		}
		out.Missing = append(out.Missing, name)
	}
	out.Confidence = float64(hits) / float64(len(requiredFields))
	return out
}

// NormalizeDate finds the first date in s and renders it as YYYY-MM-DD.
// Ambiguous numeric dates are read month first unless the first part
// cannot be a month.
func NormalizeDate(s string) string {
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return formatDate(m[1], m[2], m[3])
	}
	if m := numericDate.FindStringSubmatch(s); m != nil {
		first, second, year := m[1], m[2], m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		if n, _ := strconv.Atoi(first); n > 12 {
			return formatDate(year, second, first)
		}
		return formatDate(year, first, second)
	}
	if m := wordDate.FindStringSubmatch(s); m != nil {
		for _, layout := range []string{"Jan 2 2006", "January 2 2006"} {
			if t, err := time.Parse(layout, m[1]+" "+m[2]+" "+m[3]); err == nil {
				return t.Format(domain.DateLayout)
			}
		}
	}
	return ""
}

func formatDate(year, month, day string) string {
	y, errY := strconv.Atoi(year)
	mo, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return ""
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func normalizeTaxID(raw string) string {
	raw = strings.TrimSpace(raw)
	digits := strings.ReplaceAll(raw, "-", "")
	if len(digits) == 9 && !strings.Contains(raw, "-") {
		return digits[:2] + "-" + digits[2:]
	}
	return raw
}

// guessVendor picks the first early line that looks like a company name,
// or the first non-header line.
func guessVendor(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	first := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) <= 3 || isNumeric(line) || containsAny(strings.ToLower(line), headerWords) {
			continue
		}
		if containsAny(strings.ToLower(" "+line), companyHints) {
			return line
		}
		if first == "" {
			first = line
		}
	}
	return first
}

func isHeaderWord(s string) bool {
	return containsAny(strings.ToLower(s), []string{"date", "total", "amount", "billto", "shipto"})
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return err == nil
}
