package models

import (
	"errors"
	"fmt"
)

// DenialCategory is the machine-readable class of a policy denial.
type DenialCategory string

const (
	DenialFirewall   DenialCategory = "firewall"
	DenialSovereign  DenialCategory = "sovereign"
	DenialSafeMode   DenialCategory = "safe_mode"
	DenialRateLimit  DenialCategory = "rate_limit"
	DenialZone       DenialCategory = "zone"
	DenialManifest   DenialCategory = "manifest"
	DenialGovernance DenialCategory = "governance"
	DenialIntegrity  DenialCategory = "integrity"
)

// DenialError is an expected, policy-driven rejection. Infrastructure
// failures never use this type.
type DenialError struct {
	Category DenialCategory
	Reason   string
	Details  map[string]any
	Err      error
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Reason)
}

func (e *DenialError) Unwrap() error { return e.Err }

// Deny builds a DenialError.
func Deny(category DenialCategory, reason string) *DenialError {
	return &DenialError{Category: category, Reason: reason}
}

// Categorized is implemented by denial errors that are not *DenialError.
type Categorized interface {
	DenialCategory() DenialCategory
}

// IsDenial reports whether err (or anything it wraps) is a policy denial.
func IsDenial(err error) bool {
	_, ok := DenialCategoryOf(err)
	return ok
}

// DenialCategoryOf extracts the category of a denial error.
func DenialCategoryOf(err error) (DenialCategory, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de.Category, true
	}
	var c Categorized
	if errors.As(err, &c) {
		return c.DenialCategory(), true
	}
	return "", false
}
