package api

import (
	"fmt"

	"ratehub/internal/model"
)

// validateShipment returns the fetch-eligibility problems of a draft.
// Empty result means the draft can be quoted.
func validateShipment(d model.ShipmentDraft) []string {
	var problems []string
	problems = append(problems, validateAddress("origin", d.Origin)...)
	problems = append(problems, validateAddress("destination", d.Destination)...)
	if len(d.Packages) == 0 {
		problems = append(problems, "at least one package required")
	}
	complete := false
	for i, p := range d.Packages {
		if p.WeightLb < 0 {
			problems = append(problems, fmt.Sprintf("package %d: negative weight", i+1))
			continue
		}
		if p.WeightLb > 0 {
			complete = true
		}
	}
	if len(d.Packages) > 0 && !complete {
		problems = append(problems, "at least one package needs a weight")
	}
	return problems
}

func validateAddress(label string, a model.Address) []string {
	var problems []string
	if a.City == "" {
		problems = append(problems, label+": city required")
	}
	if a.State == "" {
		problems = append(problems, label+": state required")
	}
	if a.PostalCode == "" {
		problems = append(problems, label+": postal code required")
	}
	return problems
}
