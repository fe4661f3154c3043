package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Core domain types for shipment drafts and carrier rates.

type Address struct {
	Name       string `json:"name,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

type Package struct {
	WeightLb     float64 `json:"weightLb"`
	LengthIn     float64 `json:"lengthIn,omitempty"`
	WidthIn      float64 `json:"widthIn,omitempty"`
	HeightIn     float64 `json:"heightIn,omitempty"`
	Description  string  `json:"description,omitempty"`
	Packaging    string  `json:"packaging,omitempty"` // box, pallet, crate, envelope
	FreightClass string  `json:"freightClass,omitempty"`
}

// ShipmentDraft is an immutable snapshot of the form at request time.
type ShipmentDraft struct {
	Type         string    `json:"type"` // parcel, freight
	ServiceLevel string    `json:"serviceLevel,omitempty"`
	ShipDate     string    `json:"shipDate,omitempty"`
	Origin       Address   `json:"origin"`
	Destination  Address   `json:"destination"`
	Packages     []Package `json:"packages"`
}

// Fingerprint summarizes the fetch-relevant fields of a draft. Two drafts
// with equal fingerprints yield the same rate request.
func (d ShipmentDraft) Fingerprint() string {
	var b strings.Builder
	b.WriteString(d.Type)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%s %s %s %s", d.Origin.Street, d.Origin.City, d.Origin.State, d.Origin.PostalCode)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%s %s %s %s", d.Destination.Street, d.Destination.City, d.Destination.State, d.Destination.PostalCode)
	for _, p := range d.Packages {
		fmt.Fprintf(&b, "|%.2f:%.1fx%.1fx%.1f:%s:%s", p.WeightLb, p.LengthIn, p.WidthIn, p.HeightIn, p.Description, p.Packaging)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// IsFreight reports whether the draft is freight-shaped: freight type,
// palletized, or a freight class on any package.
func (d ShipmentDraft) IsFreight() bool {
	if strings.EqualFold(d.Type, "freight") {
		return true
	}
	for _, p := range d.Packages {
		if p.FreightClass != "" || strings.EqualFold(p.Packaging, "pallet") || strings.EqualFold(p.Packaging, "crate") {
			return true
		}
	}
	return false
}

func (d ShipmentDraft) TotalWeightLb() float64 {
	t := 0.0
	for _, p := range d.Packages {
		t += p.WeightLb
	}
	return t
}

// CarrierDescriptor identifies one queryable carrier integration.
type CarrierDescriptor struct {
	Key       string   `json:"key"`
	Name      string   `json:"name"`
	SCAC      string   `json:"scac,omitempty"`
	Aliases   []string `json:"aliases,omitempty"`
	ColdStart bool     `json:"coldStart,omitempty"`
	Endpoint  string   `json:"endpoint,omitempty"`
	TimeoutMs int      `json:"timeoutMs,omitempty"` // per-carrier override, 0 = policy default
}

// Matches reports whether the descriptor is recorded under key, checking
// legacy aliases as fallback.
func (c CarrierDescriptor) Matches(key string) bool {
	if strings.EqualFold(c.Key, key) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.EqualFold(a, key) {
			return true
		}
	}
	return false
}

// Outcome status values for one carrier within a session.
const (
	OutcomePending = "pending"
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// RawRate is a carrier-reported quote before markup. Carriers disagree on
// which identifier field they populate; ProviderRef picks the first.
type RawRate struct {
	ProviderID  string  `json:"providerId,omitempty"`
	QuoteID     string  `json:"quoteId,omitempty"`
	RateID      string  `json:"rateId,omitempty"`
	Carrier     string  `json:"carrier"`
	Service     string  `json:"service,omitempty"`
	Freight     float64 `json:"freight"`
	Fuel        float64 `json:"fuel,omitempty"`
	ServiceChg  float64 `json:"serviceCharge,omitempty"`
	Accessorial float64 `json:"accessorial,omitempty"`
	TransitDays int     `json:"transitDays,omitempty"`
}

// ProviderRef returns the provider-assigned identifier: providerId, else
// quoteId, else rateId.
func (r RawRate) ProviderRef() string {
	if r.ProviderID != "" {
		return r.ProviderID
	}
	if r.QuoteID != "" {
		return r.QuoteID
	}
	return r.RateID
}

// Total is the carrier's all-in price.
func (r RawRate) Total() float64 {
	return r.Freight + r.Fuel + r.ServiceChg + r.Accessorial
}

// ChargeBreakdown itemizes one side (cost or charged) of a priced rate.
type ChargeBreakdown struct {
	Freight     float64 `json:"freight"`
	Fuel        float64 `json:"fuel,omitempty"`
	Service     float64 `json:"service,omitempty"`
	Accessorial float64 `json:"accessorial,omitempty"`
	Total       float64 `json:"total"`
}

// RateKey is the deduplication identity of a priced rate. Total is held in
// cents so the key stays comparable.
type RateKey struct {
	Ref        string
	Carrier    string
	TotalCents int64
}

// PricedRate is a RawRate after markup: Cost is what the carrier charges
// us, Charged is what the customer sees.
type PricedRate struct {
	ID          string          `json:"id"`
	Carrier     string          `json:"carrier"`
	Service     string          `json:"service,omitempty"`
	TransitDays int             `json:"transitDays,omitempty"`
	Cost        ChargeBreakdown `json:"cost"`
	Charged     ChargeBreakdown `json:"charged"`
	MarkedUp    bool            `json:"markedUp"`
	ProviderRef string          `json:"providerRef,omitempty"`
}

// Key derives the dedup identity from the charged total.
func (p PricedRate) Key() RateKey {
	return RateKey{
		Ref:        p.ProviderRef,
		Carrier:    strings.ToLower(p.Carrier),
		TotalCents: int64(math.Round(p.Charged.Total * 100)),
	}
}

// CarrierOutcome is one carrier's terminal result within a session.
type CarrierOutcome struct {
	Carrier   string    `json:"carrier"`
	Status    string    `json:"status"`
	Rates     []RawRate `json:"rates,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int       `json:"latencyMs"`
}

// Session state values exposed to callers.
const (
	SessionIdle        = "idle"
	SessionDebouncing  = "debouncing"
	SessionDispatching = "dispatching"
	SessionReconciling = "reconciling"
	SessionSucceeded   = "succeeded"
	SessionEmptyResult = "empty"
	SessionFailed      = "failed"
	SessionCancelled   = "cancelled"
)

// SessionUpdate is the progressive payload pushed to the presentation
// layer on every merge.
type SessionUpdate struct {
	SessionID         string            `json:"sessionId"`
	TenantID          string            `json:"tenantId"`
	State             string            `json:"state"`
	Rates             []PricedRate      `json:"rates"`
	CompletedCarriers map[string]int    `json:"completedCarriers"` // carrier -> rate count
	FailedCarriers    map[string]string `json:"failedCarriers"`    // carrier -> reason
}

// FinalResult is the settled outcome of one aggregation session, handed
// off for persistence.
type FinalResult struct {
	SessionID         string            `json:"sessionId"`
	TenantID          string            `json:"tenantId"`
	Fingerprint       string            `json:"fingerprint"`
	State             string            `json:"state"`
	Rates             []PricedRate      `json:"rates"`
	CompletedCarriers map[string]int    `json:"completedCarriers"`
	FailedCarriers    map[string]string `json:"failedCarriers"`
	Error             string            `json:"error,omitempty"`
	StartedAt         string            `json:"startedAt,omitempty"`
	SettledAt         string            `json:"settledAt,omitempty"`
	ElapsedMs         int               `json:"elapsedMs,omitempty"`
}

// SortedFailedCarriers lists failed carrier keys in stable order for
// messages and logs.
func (f FinalResult) SortedFailedCarriers() []string {
	keys := make([]string, 0, len(f.FailedCarriers))
	for k := range f.FailedCarriers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarkupRule adjusts a carrier's cost price into the charged price.
type MarkupRule struct {
	CarrierKey string  `json:"carrierKey,omitempty"` // empty = default rule
	Percent    float64 `json:"percent"`
	FlatFee    float64 `json:"flatFee,omitempty"`
	MinMargin  float64 `json:"minMargin,omitempty"`
}

// Webhook subscription types for quote.settled notifications.
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
