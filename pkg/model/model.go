// Package model defines the identity and profile records that flow between
// the directory, the reconciler and the merger.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DirectoryIdentity pairs a directory employee id with a registry uuid.
type DirectoryIdentity struct {
	EmployeeID string
	UUID       string
}

// NormalizeEmployeeID returns the canonical upper-case form of an employee id.
func NormalizeEmployeeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Consent is the tri-state photo consent flag of a directory page.
type Consent int8

const (
	ConsentUnknown Consent = iota
	ConsentGranted
	ConsentWithheld
)

// ParseConsent maps the textual forms used in snapshots back to a Consent.
// Only true and false, in any case, are recognized.
func ParseConsent(s string) Consent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return ConsentGranted
	case "false":
		return ConsentWithheld
	}
	return ConsentUnknown
}

func (c Consent) String() string {
	switch c {
	case ConsentGranted:
		return "True"
	case ConsentWithheld:
		return "False"
	}
	return ""
}

// UnmarshalJSON accepts a boolean or a "True"/"False" string. Any other
// value, null included, decodes to ConsentUnknown.
func (c *Consent) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("consent: %w", err)
	}
	switch v := v.(type) {
	case bool:
		if v {
			*c = ConsentGranted
		} else {
			*c = ConsentWithheld
		}
	case string:
		*c = ParseConsent(v)
	default:
		*c = ConsentUnknown
	}
	return nil
}

func (c Consent) MarshalJSON() ([]byte, error) {
	switch c {
	case ConsentGranted:
		return []byte("true"), nil
	case ConsentWithheld:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

// DirectoryPage is one page returned by the directory's identifier lookup.
type DirectoryPage struct {
	SolisID       string  `json:"SolisID"`
	URLEN         string  `json:"UrlEN"`
	URLNL         string  `json:"UrlNL"`
	Email         string  `json:"Email"`
	DescriptionEN string  `json:"DescriptionEN"`
	DescriptionNL string  `json:"DescriptionNL"`
	PhotoURL      string  `json:"UrlProfielfoto"`
	PhotoConsent  Consent `json:"ToestemmingProfielfotoInExterneApps"`
}

// StaffPageURL returns the English staff page url, falling back to the Dutch one.
func (p DirectoryPage) StaffPageURL() string {
	if p.URLEN != "" {
		return p.URLEN
	}
	return p.URLNL
}

// ConsolidatedRecord joins a directory page with the registry uuid of the
// person it belongs to. It is comparable so exact duplicates can be detected
// with ==.
type ConsolidatedRecord struct {
	UUID          string
	EmployeeID    string
	Email         string
	DescriptionEN string
	DescriptionNL string
	PhotoURL      string
	StaffPageURL  string
	PhotoConsent  Consent
	PageID        string
}

// IsZero reports whether every field of r is empty.
func (r ConsolidatedRecord) IsZero() bool {
	return r == ConsolidatedRecord{}
}

// Bio returns the English description, falling back to the Dutch one.
func (r ConsolidatedRecord) Bio() string {
	if r.DescriptionEN != "" {
		return r.DescriptionEN
	}
	return r.DescriptionNL
}

// HasPhotoConsent is true only for an explicit grant.
func (r ConsolidatedRecord) HasPhotoConsent() bool {
	return r.PhotoConsent == ConsentGranted
}

// EmployeeDetail holds the fields harvested from one directory employee page.
type EmployeeDetail struct {
	PageID   string `json:"Employee_Id"`
	Email    string `json:"Email,omitempty"`
	Bio      string `json:"Bio,omitempty"`
	PhotoURL string `json:"PhotoUrl,omitempty"`
}
