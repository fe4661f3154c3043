package rateflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoEligibleCarriers means the session never starts: no carrier in the
// catalog intersects the company's enabled set for this shipment.
var ErrNoEligibleCarriers = errors.New("no eligible carriers for shipment")

// CarrierErrorKind classifies per-carrier failures. These are recoverable
// and isolated to the carrier; they are tracked, never propagated.
type CarrierErrorKind string

const (
	KindTimeout         CarrierErrorKind = "timeout"
	KindTransport       CarrierErrorKind = "transport"
	KindInvalidResponse CarrierErrorKind = "invalid_response"
)

// CarrierError wraps one carrier's failure with its classification.
type CarrierError struct {
	Carrier string
	Kind    CarrierErrorKind
	Err     error
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("carrier %s: %s: %v", e.Carrier, e.Kind, e.Err)
}

func (e *CarrierError) Unwrap() error { return e.Err }

// AggregateError means every carrier failed and zero rates accumulated.
type AggregateError struct {
	Failures map[string]string // carrier -> reason
}

func (e *AggregateError) Error() string {
	keys := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Failures[k])
	}
	return "all carriers failed: " + strings.Join(parts, "; ")
}
