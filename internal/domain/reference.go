package domain

import "strings"

// Vendor is an entry of the approved-vendor list.
type Vendor struct {
	Name        string
	TaxID       string
	CreditLimit Money
	RiskLevel   string
	Status      string
	Category    string
}

// Approved reports whether the vendor is fully approved and not high risk.
func (v Vendor) Approved() bool {
	return strings.EqualFold(v.Status, "approved") && !strings.EqualFold(v.RiskLevel, "high")
}

// BlacklistEntry matches by vendor name, tax id, or both.
type BlacklistEntry struct {
	Name   string
	TaxID  string
	Reason string
}

// PurchaseOrder is an ERP purchase order that may cover an invoice.
type PurchaseOrder struct {
	Number      string
	VendorName  string
	Amount      Money
	Status      string
	CreatedDate string
}

// AmountProfile summarises historical invoice amounts of a vendor.
type AmountProfile struct {
	Mean    float64
	StdDev  float64
	Samples int
}

// Reference is the read-only reference data handed to every stage.
// It is built once at startup and never mutated afterwards.
type Reference struct {
	Vendors        []Vendor
	Blacklist      []BlacklistEntry
	PurchaseOrders []PurchaseOrder
	CategoryNorms  map[string]Money
	DefaultNorm    Money
	Profiles       map[string]AmountProfile
	FraudKeywords  []string
}

// NormalizeName folds a vendor name for comparisons.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FindVendor returns the approved-vendor entry matching both name and tax id.
func (r *Reference) FindVendor(name, taxID string) (Vendor, bool) {
	if r == nil {
		return Vendor{}, false
	}
	key := NormalizeName(name)
	taxID = strings.TrimSpace(taxID)
	for _, v := range r.Vendors {
		if NormalizeName(v.Name) == key && v.TaxID == taxID {
			return v, true
		}
	}
	return Vendor{}, false
}

// VendorByName returns the approved-vendor entry with the given name.
func (r *Reference) VendorByName(name string) (Vendor, bool) {
	if r == nil {
		return Vendor{}, false
	}
	key := NormalizeName(name)
	for _, v := range r.Vendors {
		if NormalizeName(v.Name) == key {
			return v, true
		}
	}
	return Vendor{}, false
}

// Blacklisted returns the blacklist entry hit by name or tax id.
func (r *Reference) Blacklisted(name, taxID string) (BlacklistEntry, bool) {
	if r == nil {
		return BlacklistEntry{}, false
	}
	key := NormalizeName(name)
	taxID = strings.TrimSpace(taxID)
	for _, b := range r.Blacklist {
		if b.Name != "" && key != "" && NormalizeName(b.Name) == key {
			return b, true
		}
		if b.TaxID != "" && taxID != "" && b.TaxID == taxID {
			return b, true
		}
	}
	return BlacklistEntry{}, false
}

// OpenPurchaseOrders lists open orders of a vendor.
func (r *Reference) OpenPurchaseOrders(vendorName string) []PurchaseOrder {
	if r == nil {
		return nil
	}
	key := NormalizeName(vendorName)
	var out []PurchaseOrder
	for _, po := range r.PurchaseOrders {
		if NormalizeName(po.VendorName) == key && strings.EqualFold(po.Status, "open") {
			out = append(out, po)
		}
	}
	return out
}

// Norm returns the typical maximum amount for a category.
func (r *Reference) Norm(category string) Money {
	if r == nil {
		return 0
	}
	if n, ok := r.CategoryNorms[strings.ToLower(category)]; ok && n > 0 {
		return n
	}
	return r.DefaultNorm
}

// Profile returns the amount profile of a vendor.
func (r *Reference) Profile(vendorName string) (AmountProfile, bool) {
	if r == nil || r.Profiles == nil {
		return AmountProfile{}, false
	}
	p, ok := r.Profiles[NormalizeName(vendorName)]
	return p, ok
}
