// Package document models the registry person document.
//
// Only the members the merger reads or writes are typed. Every other member,
// at any nesting level, is kept in an Extra map and written back unchanged,
// so a fetched document survives a decode/encode round trip. A nil slice
// means the member was absent; an empty non-nil slice is written as [].
// Typed string members that arrived as "" are written back as "".
package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// LocalizedString maps a locale such as en_GB to a text.
type LocalizedString map[string]string

// Person is a registry person document.
type Person struct {
	UUID                          string
	ProfileInformation            []ProfileInformation
	StaffOrganizationAssociations []StaffOrganizationAssociation
	ProfilePhotos                 []ProfilePhoto
	Extra                         map[string]json.RawMessage

	present presence
}

func (p *Person) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("person: %w", err)
	}
	var out Person
	if err := d.take("uuid", &out.UUID); err != nil {
		return err
	}
	if err := d.take("profileInformation", &out.ProfileInformation); err != nil {
		return err
	}
	if err := d.take("staffOrganizationAssociations", &out.StaffOrganizationAssociations); err != nil {
		return err
	}
	if err := d.take("profilePhotos", &out.ProfilePhotos); err != nil {
		return err
	}
	out.Extra = d.rest()
	out.present = d.seen
	*p = out
	return nil
}

func (p Person) MarshalJSON() ([]byte, error) {
	e := newEncoder(p.Extra)
	e.putString("uuid", p.UUID, p.present)
	if p.ProfileInformation != nil {
		e.put("profileInformation", p.ProfileInformation)
	}
	if p.StaffOrganizationAssociations != nil {
		e.put("staffOrganizationAssociations", p.StaffOrganizationAssociations)
	}
	if p.ProfilePhotos != nil {
		e.put("profilePhotos", p.ProfilePhotos)
	}
	return e.bytes()
}

// Classification is a typed reference to a registry vocabulary term.
type Classification struct {
	URI   string
	Term  LocalizedString
	Extra map[string]json.RawMessage

	present presence
}

func (c *Classification) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("classification: %w", err)
	}
	var out Classification
	if err := d.take("uri", &out.URI); err != nil {
		return err
	}
	if err := d.take("term", &out.Term); err != nil {
		return err
	}
	out.Extra = d.rest()
	out.present = d.seen
	*c = out
	return nil
}

func (c Classification) MarshalJSON() ([]byte, error) {
	e := newEncoder(c.Extra)
	e.putString("uri", c.URI, c.present)
	if c.Term != nil {
		e.put("term", c.Term)
	}
	return e.bytes()
}

// Label returns the en_GB term, or "" when c is nil.
func (c *Classification) Label() string {
	if c == nil {
		return ""
	}
	return c.Term["en_GB"]
}

// ProfileInformation is one labelled free-text entry of a profile.
type ProfileInformation struct {
	Type  *Classification
	Value LocalizedString
	Extra map[string]json.RawMessage
}

func (pi *ProfileInformation) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("profile information: %w", err)
	}
	var out ProfileInformation
	if err := d.take("type", &out.Type); err != nil {
		return err
	}
	if err := d.take("value", &out.Value); err != nil {
		return err
	}
	out.Extra = d.rest()
	*pi = out
	return nil
}

func (pi ProfileInformation) MarshalJSON() ([]byte, error) {
	e := newEncoder(pi.Extra)
	if pi.Type != nil {
		e.put("type", pi.Type)
	}
	if pi.Value != nil {
		e.put("value", pi.Value)
	}
	return e.bytes()
}

// StaffOrganizationAssociation is a person's affiliation with an organization.
type StaffOrganizationAssociation struct {
	Period *Period
	Emails []Email
	Extra  map[string]json.RawMessage
}

func (a *StaffOrganizationAssociation) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("staff organization association: %w", err)
	}
	var out StaffOrganizationAssociation
	if err := d.take("period", &out.Period); err != nil {
		return err
	}
	if err := d.take("emails", &out.Emails); err != nil {
		return err
	}
	out.Extra = d.rest()
	*a = out
	return nil
}

func (a StaffOrganizationAssociation) MarshalJSON() ([]byte, error) {
	e := newEncoder(a.Extra)
	if a.Period != nil {
		e.put("period", a.Period)
	}
	if a.Emails != nil {
		e.put("emails", a.Emails)
	}
	return e.bytes()
}

// Period is an inclusive date range. An empty EndDate is open-ended.
type Period struct {
	StartDate string
	EndDate   string
	Extra     map[string]json.RawMessage

	present presence
}

func (p *Period) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("period: %w", err)
	}
	var out Period
	if err := d.take("startDate", &out.StartDate); err != nil {
		return err
	}
	if err := d.take("endDate", &out.EndDate); err != nil {
		return err
	}
	out.Extra = d.rest()
	out.present = d.seen
	*p = out
	return nil
}

func (p Period) MarshalJSON() ([]byte, error) {
	e := newEncoder(p.Extra)
	e.putString("startDate", p.StartDate, p.present)
	e.putString("endDate", p.EndDate, p.present)
	return e.bytes()
}

// Contains reports whether the calendar day of ref lies within p. A period
// without a start date, or with a date that does not parse, contains nothing.
func (p *Period) Contains(ref time.Time) bool {
	if p == nil || p.StartDate == "" {
		return false
	}
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	start, err := parseDate(p.StartDate)
	if err != nil || day.Before(start) {
		return false
	}
	if p.EndDate == "" {
		return true
	}
	end, err := parseDate(p.EndDate)
	if err != nil {
		return false
	}
	return !day.After(end)
}

// parseDate accepts a plain date or an RFC 3339 timestamp and returns the
// calendar day at UTC midnight.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// Email is one email address on an association.
type Email struct {
	Value string
	Type  *Classification
	Extra map[string]json.RawMessage

	present presence
}

func (em *Email) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	var out Email
	if err := d.take("value", &out.Value); err != nil {
		return err
	}
	if err := d.take("type", &out.Type); err != nil {
		return err
	}
	out.Extra = d.rest()
	out.present = d.seen
	*em = out
	return nil
}

func (em Email) MarshalJSON() ([]byte, error) {
	e := newEncoder(em.Extra)
	e.putString("value", em.Value, em.present)
	if em.Type != nil {
		e.put("type", em.Type)
	}
	return e.bytes()
}

// ProfilePhoto is an attached portrait. FileData is base64 encoded.
type ProfilePhoto struct {
	FileName              string
	MimeType              string
	Size                  int64
	FileData              string
	CopyrightConfirmation *bool
	Type                  *Classification
	Caption               LocalizedString
	AltText               LocalizedString
	CopyrightStatement    LocalizedString
	Extra                 map[string]json.RawMessage

	present presence
}

func (ph *ProfilePhoto) UnmarshalJSON(data []byte) error {
	d, err := newDecoder(data)
	if err != nil {
		return fmt.Errorf("profile photo: %w", err)
	}
	var out ProfilePhoto
	for key, v := range map[string]any{
		"fileName":              &out.FileName,
		"mimeType":              &out.MimeType,
		"size":                  &out.Size,
		"fileData":              &out.FileData,
		"copyrightConfirmation": &out.CopyrightConfirmation,
		"type":                  &out.Type,
		"caption":               &out.Caption,
		"altText":               &out.AltText,
		"copyrightStatement":    &out.CopyrightStatement,
	} {
		if err := d.take(key, v); err != nil {
			return err
		}
	}
	out.Extra = d.rest()
	out.present = d.seen
	*ph = out
	return nil
}

func (ph ProfilePhoto) MarshalJSON() ([]byte, error) {
	e := newEncoder(ph.Extra)
	e.putString("fileName", ph.FileName, ph.present)
	e.putString("mimeType", ph.MimeType, ph.present)
	if ph.Size != 0 || ph.present["size"] {
		e.put("size", ph.Size)
	}
	e.putString("fileData", ph.FileData, ph.present)
	if ph.CopyrightConfirmation != nil {
		e.put("copyrightConfirmation", *ph.CopyrightConfirmation)
	}
	if ph.Type != nil {
		e.put("type", ph.Type)
	}
	if ph.Caption != nil {
		e.put("caption", ph.Caption)
	}
	if ph.AltText != nil {
		e.put("altText", ph.AltText)
	}
	if ph.CopyrightStatement != nil {
		e.put("copyrightStatement", ph.CopyrightStatement)
	}
	return e.bytes()
}
