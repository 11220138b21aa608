package enums

import (
	"fmt"
	"strings"
	"time"
)

// PlanType is the billing cadence a course is sold under.
type PlanType string

const (
	PlanTypeMonthly   PlanType = "monthly"
	PlanTypeQuarterly PlanType = "quarterly"
	PlanTypeSemestral PlanType = "semestral"
	PlanTypeAnnual    PlanType = "annual"
)

var planMonths = map[PlanType]int{
	PlanTypeMonthly:   1,
	PlanTypeQuarterly: 3,
	PlanTypeSemestral: 6,
	PlanTypeAnnual:    12,
}

func (p PlanType) IsValid() bool {
	_, ok := planMonths[p]
	return ok
}

// Months returns the plan length in calendar months, zero when unknown.
func (p PlanType) Months() int {
	return planMonths[p]
}

// EndDate returns the date an access period that starts at start ends.
func (p PlanType) EndDate(start time.Time) time.Time {
	return start.AddDate(0, p.Months(), 0)
}

// ParsePlanType converts raw input into a PlanType.
func ParsePlanType(value string) (PlanType, error) {
	candidate := PlanType(strings.ToLower(strings.TrimSpace(value)))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}
