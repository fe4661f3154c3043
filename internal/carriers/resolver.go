package carriers

import (
	"context"

	"ratehub/internal/model"
)

// freightWeightLb is the parcel/freight cutover weight.
const freightWeightLb = 150

// ConfigSource yields the company's enabled carrier keys. Keys may be
// recorded under historical identifiers; matching falls back to aliases.
type ConfigSource interface {
	GetCompanyCarrierConfig(ctx context.Context, tenantID string) ([]string, error)
}

// Resolver intersects the global catalog with the company's enabled set
// for a given shipment shape.
type Resolver struct {
	Catalog *Catalog
	Config  ConfigSource
}

func NewResolver(catalog *Catalog, cfg ConfigSource) *Resolver {
	return &Resolver{Catalog: catalog, Config: cfg}
}

// Resolve returns the ordered carrier set to query. An empty list is not
// an error; the caller treats it as "cannot fetch."
func (r *Resolver) Resolve(ctx context.Context, tenantID string, shipment model.ShipmentDraft) ([]model.CarrierDescriptor, error) {
	enabled, err := r.Config.GetCompanyCarrierConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return Eligible(r.Catalog, shipment, enabled), nil
}

// Eligible is the pure core of resolution: catalog order is preserved,
// entries must support the shipment class and appear in the enabled list
// (by key, with legacy-alias fallback).
func Eligible(catalog *Catalog, shipment model.ShipmentDraft, enabled []string) []model.CarrierDescriptor {
	class := shipmentClass(shipment)
	var out []model.CarrierDescriptor
	for _, e := range catalog.Entries {
		if !e.supports(class) {
			continue
		}
		desc := e.Descriptor()
		for _, key := range enabled {
			if desc.Matches(key) {
				out = append(out, desc)
				break
			}
		}
	}
	return out
}

func shipmentClass(d model.ShipmentDraft) string {
	if d.IsFreight() || d.TotalWeightLb() > freightWeightLb {
		return "freight"
	}
	return "parcel"
}
