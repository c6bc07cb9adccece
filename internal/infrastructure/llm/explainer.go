package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// Config points the explainer at an OpenAI-compatible chat completions API.
type Config struct {
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
	Timeout      time.Duration
}

// Explainer implements ports.Explainer backed by a chat completions API.
type Explainer struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Explainer = (*Explainer)(nil)

// NewExplainer builds a client from configuration.
func NewExplainer(cfg Config) *Explainer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Explainer{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Explain asks the model to describe the decision in plain language.
func (e *Explainer) Explain(ctx context.Context, result domain.ValidationResult) (string, error) {
	if e == nil {
		return "", fmt.Errorf("explainer is nil")
	}
	if e.apiKey == "" || e.endpoint == "" || e.model == "" {
		return "", fmt.Errorf("explainer misconfigured")
	}

	digest, err := json.Marshal(digestOf(result))
	if err != nil {
		return "", fmt.Errorf("marshal decision digest: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"model":       e.model,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(e.systemPrompt)},
			{"role": "user", "content": string(digest)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request explanation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat api error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

type stageDigest struct {
	Stage    domain.StageName `json:"stage"`
	Score    int              `json:"score"`
	Budget   int              `json:"budget"`
	Severity domain.Severity  `json:"severity"`
	Reasons  []string         `json:"reasons"`
}

type decisionDigest struct {
	InvoiceID string          `json:"invoice_id"`
	Vendor    string          `json:"vendor"`
	Amount    string          `json:"amount"`
	Status    domain.Status   `json:"status"`
	RiskTier  domain.RiskTier `json:"risk_tier"`
	Score     int             `json:"score"`
	Stages    []stageDigest   `json:"stages"`
}

func digestOf(r domain.ValidationResult) decisionDigest {
	d := decisionDigest{
		InvoiceID: r.InvoiceID,
		Vendor:    r.Submission.VendorName,
		Amount:    r.Submission.Amount.String(),
		Status:    r.Status,
		RiskTier:  r.RiskTier,
		Score:     r.Score,
	}
	for _, f := range r.Findings {
		d.Stages = append(d.Stages, stageDigest{Stage: f.Stage, Score: f.Score, Budget: f.Budget, Severity: f.Severity, Reasons: f.Reasons})
	}
	return d
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You explain invoice validation decisions to accounts-payable staff in three short sentences, citing the stages that lost points."
	}
	return prompt
}
