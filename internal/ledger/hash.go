package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"InvoiceLedger/internal/domain"
)

// ContentHash identifies a submission's content. Two submissions with the
// same fields hash equally regardless of when they were scored.
func ContentHash(sub domain.InvoiceSubmission) string {
	h := sha256.New()
	field := func(v string) {
		fmt.Fprintf(h, "%d:%s;", len(v), v)
	}
	field(strings.TrimSpace(sub.InvoiceID))
	field(domain.NormalizeName(sub.VendorName))
	field(strings.TrimSpace(sub.TaxID))
	field(sub.Amount.String())
	field(strings.TrimSpace(sub.Date))
	field(strings.TrimSpace(sub.Notes))
	for _, item := range sub.LineItems {
		field(strings.TrimSpace(item.Description))
		field(fmt.Sprintf("%g", item.Quantity))
		field(item.UnitPrice.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
