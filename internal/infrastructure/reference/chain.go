package reference

import (
	"context"
	"fmt"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/ports"
)

// Chain loads every source in order; each later source overrides the
// sections it provides.
type Chain []ports.ReferenceSource

var _ ports.ReferenceSource = Chain(nil)

func (c Chain) Load(ctx context.Context) (*domain.Reference, error) {
	var out *domain.Reference
	for i, src := range c {
		ref, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("reference source %d: %w", i, err)
		}
		out = Merge(out, ref)
	}
	return out, nil
}

// Merge overlays the non-empty sections of top on base. Neither input is
// modified.
func Merge(base, top *domain.Reference) *domain.Reference {
	if base == nil {
		return top
	}
	if top == nil {
		return base
	}
	out := *base
	if len(top.Vendors) > 0 {
		out.Vendors = top.Vendors
	}
	if len(top.Blacklist) > 0 {
		out.Blacklist = top.Blacklist
	}
	if len(top.PurchaseOrders) > 0 {
		out.PurchaseOrders = top.PurchaseOrders
	}
	if len(top.CategoryNorms) > 0 {
		out.CategoryNorms = top.CategoryNorms
	}
	if top.DefaultNorm > 0 {
		out.DefaultNorm = top.DefaultNorm
	}
	if len(top.Profiles) > 0 {
		out.Profiles = top.Profiles
	}
	if len(top.FraudKeywords) > 0 {
		out.FraudKeywords = top.FraudKeywords
	}
	return &out
}
