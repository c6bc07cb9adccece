package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// flagLines pairs each flag with its alert label and the reason text that
// explains it.
var flagLines = []struct {
	flag    domain.Flag
	label   string
	keyword string
}{
	{domain.FlagBlacklisted, "Blacklisted vendor", "blacklisted"},
	{domain.FlagDuplicateID, "Reused invoice id", "already"},
	{domain.FlagNearDuplicate, "Near-duplicate", "recent invoice"},
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Notifier sends high-risk alerts to a Telegram chat via bot API.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyHighRisk posts a Markdown alert about rec.
func (n *Notifier) NotifyHighRisk(ctx context.Context, rec domain.AuditRecord) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	if err := n.send(ctx, formatAlert(rec)); err != nil {
		return fmt.Errorf("alert %s: %w", rec.InvoiceID, err)
	}
	return nil
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (n *Notifier) send(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id":    {n.chatID},
		"text":       {text},
		"parse_mode": {"Markdown"},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var body apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &body) == nil && body.Description != "" {
		return fmt.Errorf("telegram error: %s: %s", resp.Status, body.Description)
	}
	return fmt.Errorf("telegram error: %s", resp.Status)
}

// formatAlert lists one line per raised flag with the reason behind it.
func formatAlert(rec domain.AuditRecord) string {
	r := rec.Result
	var b strings.Builder
	fmt.Fprintf(&b, "*High-risk invoice* `%s`\n", markdownEscaper.Replace(rec.InvoiceID))
	fmt.Fprintf(&b, "Vendor: %s\nAmount: %s\n", markdownEscaper.Replace(r.Submission.VendorName), r.Submission.Amount)
	fmt.Fprintf(&b, "Status: %s (score %d/100)\nAudit: %s\n", r.Status, r.Score, rec.Origin)

	for _, fl := range flagLines {
		for _, f := range r.Findings {
			if !f.HasFlag(fl.flag) {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", fl.label, markdownEscaper.Replace(flagReason(f, fl.keyword)))
		}
	}
	return b.String()
}

func flagReason(f domain.StageFinding, keyword string) string {
	for _, reason := range f.Reasons {
		if strings.Contains(strings.ToLower(reason), keyword) {
			return reason
		}
	}
	return fmt.Sprintf("raised by %s stage", f.Stage)
}
