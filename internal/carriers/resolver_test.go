package carriers

import (
	"context"
	"errors"
	"testing"

	"ratehub/internal/model"
)

type staticConfig struct {
	enabled []string
	err     error
}

func (s staticConfig) GetCompanyCarrierConfig(ctx context.Context, tenantID string) ([]string, error) {
	return s.enabled, s.err
}

func parcelDraft(weight float64) model.ShipmentDraft {
	return model.ShipmentDraft{
		Type:        "parcel",
		Origin:      model.Address{City: "Memphis", State: "TN", PostalCode: "38118"},
		Destination: model.Address{City: "Louisville", State: "KY", PostalCode: "40213"},
		Packages:    []model.Package{{WeightLb: weight}},
	}
}

func keys(descs []model.CarrierDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Key
	}
	return out
}

func TestEligibleIntersectsEnabledSet(t *testing.T) {
	got := Eligible(DefaultCatalog(), parcelDraft(10), []string{"swiftparcel", "glacierfreight"})
	if len(got) != 1 || got[0].Key != "swiftparcel" {
		t.Fatalf("eligible = %v, want [swiftparcel] (glacier does not quote parcel)", keys(got))
	}
}

func TestEligibleMatchesLegacyAlias(t *testing.T) {
	// Config recorded under the historical identifier still matches.
	got := Eligible(DefaultCatalog(), parcelDraft(10), []string{"swift", "rlx"})
	if len(got) != 2 {
		t.Fatalf("eligible = %v, want swiftparcel and roadlink via aliases", keys(got))
	}
	if got[0].Key != "swiftparcel" || got[1].Key != "roadlink" {
		t.Fatalf("catalog order not preserved: %v", keys(got))
	}
}

func TestEligibleHeavyShipmentBecomesFreight(t *testing.T) {
	got := Eligible(DefaultCatalog(), parcelDraft(400), []string{"swiftparcel", "roadlink", "glacierfreight"})
	for _, d := range got {
		if d.Key == "swiftparcel" {
			t.Fatalf("parcel-only carrier offered for a 400lb shipment")
		}
	}
	found := map[string]bool{}
	for _, d := range got {
		found[d.Key] = true
	}
	if !found["roadlink"] || !found["glacierfreight"] {
		t.Fatalf("freight carriers missing: %v", keys(got))
	}
}

func TestEligibleEmptyWhenNothingEnabled(t *testing.T) {
	if got := Eligible(DefaultCatalog(), parcelDraft(10), nil); len(got) != 0 {
		t.Fatalf("eligible = %v, want empty", keys(got))
	}
}

func TestResolvePropagatesConfigError(t *testing.T) {
	r := NewResolver(DefaultCatalog(), staticConfig{err: errors.New("db down")})
	if _, err := r.Resolve(context.Background(), "t1", parcelDraft(10)); err == nil {
		t.Fatalf("expected config error to propagate")
	}
}

func TestResolveEmptyIsNotAnError(t *testing.T) {
	r := NewResolver(DefaultCatalog(), staticConfig{})
	got, err := r.Resolve(context.Background(), "t1", parcelDraft(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("eligible = %v, want empty", keys(got))
	}
}

func TestFreightClassForcesFreight(t *testing.T) {
	d := parcelDraft(40)
	d.Packages[0].FreightClass = "70"
	got := Eligible(DefaultCatalog(), d, []string{"swiftparcel", "roadlink"})
	if len(got) != 1 || got[0].Key != "roadlink" {
		t.Fatalf("eligible = %v, want [roadlink] for class-rated shipment", keys(got))
	}
}
