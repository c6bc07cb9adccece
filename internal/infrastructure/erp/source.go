// Package erp loads vendor master data from the ERP Postgres database.
package erp

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// Vendor is a row of erp_vendors.
type Vendor struct {
	ID          uint `gorm:"primaryKey"`
	Name        string
	TaxID       string
	CreditLimit float64
	RiskLevel   string
	Status      string
	Category    string
}

func (Vendor) TableName() string { return "erp_vendors" }

// BlacklistedVendor is a row of erp_blacklist.
type BlacklistedVendor struct {
	ID     uint `gorm:"primaryKey"`
	Name   string
	TaxID  string
	Reason string
}

func (BlacklistedVendor) TableName() string { return "erp_blacklist" }

// PurchaseOrder is a row of erp_purchase_orders.
type PurchaseOrder struct {
	ID          uint   `gorm:"primaryKey"`
	PONumber    string `gorm:"column:po_number"`
	VendorName  string
	Amount      float64
	Status      string
	CreatedDate time.Time
}

func (PurchaseOrder) TableName() string { return "erp_purchase_orders" }

type profileRow struct {
	Vendor  string
	Mean    float64
	StdDev  float64
	Samples int
}

// Source reads reference data through gorm.
type Source struct {
	db *gorm.DB
}

var _ ports.ReferenceSource = (*Source)(nil)

// Open connects to the ERP database.
func Open(dsn string) (*Source, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect erp database: %w", err)
	}
	return &Source{db: db}, nil
}

// Close releases the underlying pool.
func (s *Source) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load reads vendors, blacklist, open purchase orders, and per-vendor
// amount statistics over historical invoices.
func (s *Source) Load(ctx context.Context) (*domain.Reference, error) {
	db := s.db.WithContext(ctx)

	var vendors []Vendor
	if err := db.Find(&vendors).Error; err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}
	var blacklist []BlacklistedVendor
	if err := db.Find(&blacklist).Error; err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	var orders []PurchaseOrder
	if err := db.Where("LOWER(status) = ?", "open").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load purchase orders: %w", err)
	}
	var profiles []profileRow
	err := db.Table("erp_invoices").
		Select("LOWER(vendor_name) AS vendor, AVG(amount) AS mean, COALESCE(STDDEV_SAMP(amount), 0) AS std_dev, COUNT(*) AS samples").
		Group("LOWER(vendor_name)").
		Scan(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("load amount profiles: %w", err)
	}
	return toReference(vendors, blacklist, orders, profiles), nil
}

func toReference(vendors []Vendor, blacklist []BlacklistedVendor, orders []PurchaseOrder, profiles []profileRow) *domain.Reference {
	ref := &domain.Reference{Profiles: map[string]domain.AmountProfile{}}
	for _, v := range vendors {
		ref.Vendors = append(ref.Vendors, domain.Vendor{
			Name:        v.Name,
			TaxID:       v.TaxID,
			CreditLimit: domain.FromFloat(v.CreditLimit),
			RiskLevel:   v.RiskLevel,
			Status:      v.Status,
			Category:    v.Category,
		})
	}
	for _, b := range blacklist {
		ref.Blacklist = append(ref.Blacklist, domain.BlacklistEntry{Name: b.Name, TaxID: b.TaxID, Reason: b.Reason})
	}
	for _, po := range orders {
		ref.PurchaseOrders = append(ref.PurchaseOrders, domain.PurchaseOrder{
			Number:      po.PONumber,
			VendorName:  po.VendorName,
			Amount:      domain.FromFloat(po.Amount),
			Status:      po.Status,
			CreatedDate: po.CreatedDate.UTC().Format(domain.DateLayout),
		})
	}
	for _, p := range profiles {
		ref.Profiles[domain.NormalizeName(p.Vendor)] = domain.AmountProfile{Mean: p.Mean, StdDev: p.StdDev, Samples: p.Samples}
	}
	return ref
}
