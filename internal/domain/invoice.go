package domain

import (
	"math"
	"strings"
	"time"
)

// DateLayout is the only accepted invoice date format.
const DateLayout = "2006-01-02"

// InvoiceSubmission is one submission attempt accepted into the pipeline.
// It is never modified after intake.
type InvoiceSubmission struct {
	InvoiceID  string     `json:"invoice_id"`
	VendorName string     `json:"vendor_name"`
	TaxID      string     `json:"tax_id"`
	Amount     Money      `json:"amount"`
	Date       string     `json:"date"`
	LineItems  []LineItem `json:"line_items,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// LineItem is a single priced row of an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   Money   `json:"unit_price"`
}

// Total returns quantity × unit price in cents.
func (l LineItem) Total() Money {
	return Money(math.Round(float64(l.UnitPrice) * l.Quantity))
}

// HasLineItems reports whether the optional line items were supplied.
// An empty list counts as absent.
func (s InvoiceSubmission) HasLineItems() bool {
	return len(s.LineItems) > 0
}

// HasNotes reports whether the optional free-text notes were supplied.
func (s InvoiceSubmission) HasNotes() bool {
	return strings.TrimSpace(s.Notes) != ""
}

// ParsedDate parses Date using DateLayout.
func (s InvoiceSubmission) ParsedDate() (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s.Date))
}

// Status is the decision outcome of a validation.
type Status string

const (
	StatusApproved               Status = "APPROVED"
	StatusApprovedWithConditions Status = "APPROVED_WITH_CONDITIONS"
	StatusRejected               Status = "REJECTED"
)

// RiskTier classifies fraud risk.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Severity tags a stage finding.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	if s == "" {
		return SeverityInfo
	}
	return s
}

// StageName identifies one of the four scoring stages.
type StageName string

const (
	StageFieldValidation StageName = "field_validation"
	StageCrossReference  StageName = "cross_reference"
	StageContextual      StageName = "contextual"
	StageAnomaly         StageName = "anomaly"
)

// Flag marks a structured hit a later component must react to.
type Flag string

const (
	FlagBlacklisted   Flag = "BLACKLISTED"
	FlagNearDuplicate Flag = "NEAR_DUPLICATE"
	FlagDuplicateID   Flag = "DUPLICATE_ID"
)

// StageFinding is the output of a single stage for a single submission.
type StageFinding struct {
	Stage    StageName `json:"stage"`
	Score    int       `json:"score"`
	Budget   int       `json:"budget"`
	Reasons  []string  `json:"reasons"`
	Severity Severity  `json:"severity"`
	Flags    []Flag    `json:"flags,omitempty"`
}

// HasFlag reports whether the finding carries flag.
func (f StageFinding) HasFlag(flag Flag) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// ValidationResult is the authoritative outcome for one submission attempt.
type ValidationResult struct {
	InvoiceID  string            `json:"invoice_id"`
	Submission InvoiceSubmission `json:"submission"`
	Findings   []StageFinding    `json:"findings"`
	Score      int               `json:"score"`
	RiskTier   RiskTier          `json:"risk_tier"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Finding returns the finding of the named stage.
func (v ValidationResult) Finding(stage StageName) (StageFinding, bool) {
	for _, f := range v.Findings {
		if f.Stage == stage {
			return f, true
		}
	}
	return StageFinding{}, false
}

// Origin tells where an audit record was durably committed.
type Origin string

const (
	OriginLedger   Origin = "LEDGER"
	OriginFallback Origin = "FALLBACK"
)

// Receipt is what the ledger hands back for an accepted record.
type Receipt struct {
	Sequence  int64  `json:"sequence"`
	ReceiptID string `json:"receipt_id"`
}

// AuditRecord is the immutable audit trail entry of one decision.
type AuditRecord struct {
	InvoiceID   string           `json:"invoice_id"`
	Result      ValidationResult `json:"result"`
	CommittedAt time.Time        `json:"committed_at"`
	Origin      Origin           `json:"origin"`
	Receipt     *Receipt         `json:"receipt,omitempty"`
	ContentHash string           `json:"content_hash"`
}

// LedgerEntry is what gets appended to the remote ledger.
type LedgerEntry struct {
	ContentHash string           `json:"content_hash"`
	InvoiceID   string           `json:"invoice_id"`
	Result      ValidationResult `json:"result"`
	CommittedAt time.Time        `json:"committed_at"`
}

// Entry converts the record to its ledger wire form.
func (r AuditRecord) Entry() LedgerEntry {
	return LedgerEntry{
		ContentHash: r.ContentHash,
		InvoiceID:   r.InvoiceID,
		Result:      r.Result,
		CommittedAt: r.CommittedAt,
	}
}

// Extraction is the best-effort result of reading a document.
type Extraction struct {
	Submission InvoiceSubmission `json:"submission"`
	Confidence float64           `json:"confidence"`
	MediaType  string            `json:"media_type"`
	Missing    []string          `json:"missing,omitempty"`
}
