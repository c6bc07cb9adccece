// Package reference loads read-only reference data for the scoring stages.
package reference

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

type fileVendor struct {
	Name        string  `yaml:"name"`
	TaxID       string  `yaml:"tax_id"`
	CreditLimit float64 `yaml:"credit_limit"`
	RiskLevel   string  `yaml:"risk_level"`
	Status      string  `yaml:"status"`
	Category    string  `yaml:"category"`
}

type fileBlacklisted struct {
	Name   string `yaml:"name"`
	TaxID  string `yaml:"tax_id"`
	Reason string `yaml:"reason"`
}

type filePurchaseOrder struct {
	Number      string  `yaml:"po_number"`
	VendorName  string  `yaml:"vendor_name"`
	Amount      float64 `yaml:"amount"`
	Status      string  `yaml:"status"`
	CreatedDate string  `yaml:"created_date"`
}

type fileProfile struct {
	Mean    float64 `yaml:"mean"`
	StdDev  float64 `yaml:"std_dev"`
	Samples int     `yaml:"samples"`
}

type fileData struct {
	ApprovedVendors    []fileVendor           `yaml:"approved_vendors"`
	BlacklistedVendors []fileBlacklisted      `yaml:"blacklisted_vendors"`
	PurchaseOrders     []filePurchaseOrder    `yaml:"purchase_orders"`
	CategoryNorms      map[string]float64     `yaml:"category_norms"`
	DefaultNorm        float64                `yaml:"default_norm"`
	AmountProfiles     map[string]fileProfile `yaml:"amount_profiles"`
	FraudKeywords      []string               `yaml:"fraud_keywords"`
}

// FileSource reads reference data from a YAML document.
type FileSource struct {
	path string
}

var _ ports.ReferenceSource = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Load(_ context.Context) (*domain.Reference, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read reference file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML reference document.
func Parse(raw []byte) (*domain.Reference, error) {
	var data fileData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse reference yaml: %w", err)
	}

	ref := &domain.Reference{
		CategoryNorms: map[string]domain.Money{},
		DefaultNorm:   domain.FromFloat(data.DefaultNorm),
		Profiles:      map[string]domain.AmountProfile{},
		FraudKeywords: data.FraudKeywords,
	}
	for _, v := range data.ApprovedVendors {
		if strings.TrimSpace(v.Name) == "" {
			return nil, fmt.Errorf("approved vendor without name")
		}
		ref.Vendors = append(ref.Vendors, domain.Vendor{
			Name:        v.Name,
			TaxID:       strings.TrimSpace(v.TaxID),
			CreditLimit: domain.FromFloat(v.CreditLimit),
			RiskLevel:   v.RiskLevel,
			Status:      v.Status,
			Category:    v.Category,
		})
	}
	for _, b := range data.BlacklistedVendors {
		ref.Blacklist = append(ref.Blacklist, domain.BlacklistEntry{Name: b.Name, TaxID: strings.TrimSpace(b.TaxID), Reason: b.Reason})
	}
	for _, po := range data.PurchaseOrders {
		ref.PurchaseOrders = append(ref.PurchaseOrders, domain.PurchaseOrder{
			Number:      po.Number,
			VendorName:  po.VendorName,
			Amount:      domain.FromFloat(po.Amount),
			Status:      po.Status,
			CreatedDate: po.CreatedDate,
		})
	}
	for category, norm := range data.CategoryNorms {
		ref.CategoryNorms[strings.ToLower(category)] = domain.FromFloat(norm)
	}
	for vendor, p := range data.AmountProfiles {
		ref.Profiles[domain.NormalizeName(vendor)] = domain.AmountProfile{Mean: p.Mean, StdDev: p.StdDev, Samples: p.Samples}
	}
	return ref, nil
}
