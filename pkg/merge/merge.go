// Package merge applies a consolidated directory record to a registry person
// document. The merge only inserts or replaces fields; it never removes any.
package merge

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/document"
	"github.com/mscno/staffsync/pkg/logging"
	"github.com/mscno/staffsync/pkg/model"
)

const (
	AboutLabel     = "About"
	StaffPageLabel = "Link to Utrecht University staff page"
	StaffPageURI   = "/dk/atira/pure/person/customfields/profiel_url"

	EmailTypeURI   = "/dk/atira/pure/person/personemailtype/email"
	EmailTypeLabel = "Email"

	PhotoFileName  = "profilepicture.jpg"
	PhotoMimeType  = "image/jpeg"
	PhotoTypeURI   = "/dk/atira/pure/person/personfiles/portrait"
	PhotoTypeLabel = "Portrait"

	// DefaultProfileURI is the type uri of a new About entry.
	DefaultProfileURI = "/dk/atira/pure/person/customfields/portal_profile_en"

	locale = "en_GB"
)

// PhotoSource returns stored photo bytes by page id, or an error wrapping
// apperrors.ErrNotFound.
type PhotoSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Merger merges records into documents.
type Merger struct {
	// ProfileURI is the type uri given to a new About entry.
	ProfileURI string
	Photos     PhotoSource
	Logger     *slog.Logger
}

// Outcome describes what one Merge changed.
type Outcome struct {
	About      bool
	StaffPage  bool
	Email      string
	EmailAdded bool
	PhotoAdded bool
	Warnings   []*apperrors.Warning
}

func (o *Outcome) warn(w *apperrors.Warning) {
	o.Warnings = append(o.Warnings, w)
}

// Merge applies rec to doc in place. ref decides which staff association is
// current. A photo is only attached when photoConsent is set and rec carries
// an explicit consent. Missing data is reported as warnings on the Outcome;
// an error is returned only when the photo source fails.
func (m *Merger) Merge(ctx context.Context, doc *document.Person, rec model.ConsolidatedRecord, photoConsent bool, ref time.Time) (*Outcome, error) {
	logger := logging.Component(m.Logger, "merge").With("uuid", doc.UUID)
	out := &Outcome{}

	if bio := rec.Bio(); bio != "" {
		uri := m.ProfileURI
		if uri == "" {
			uri = DefaultProfileURI
		}
		UpsertProfileInformation(doc, AboutLabel, uri, bio)
		out.About = true
	}
	if rec.StaffPageURL != "" {
		link, err := StaffPageLink(rec.StaffPageURL)
		if err != nil {
			return out, err
		}
		UpsertProfileInformation(doc, StaffPageLabel, StaffPageURI, link)
		out.StaffPage = true
	}

	if rec.Email == "" {
		out.warn(apperrors.NewWarning(apperrors.KindEmail, doc.UUID, "no email in directory"))
	} else {
		email, added, matched := ModifyEmail(doc, ref, rec.Email)
		out.Email, out.EmailAdded = email, added
		if !matched {
			out.warn(apperrors.NewWarning(apperrors.KindAssociation, doc.UUID, "no staff association valid on %s", ref.Format(time.DateOnly)))
		} else if !added && email != rec.Email {
			logger.Debug("Keeping existing email", "email", email)
		}
	}

	if photoConsent && rec.HasPhotoConsent() {
		added, err := m.attachPhoto(ctx, doc, rec.PageID, ref)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				return out, fmt.Errorf("photo for %s: %w", rec.PageID, err)
			}
			out.warn(apperrors.NewWarning(apperrors.KindPhoto, rec.PageID, "no stored photo"))
		}
		out.PhotoAdded = added
	}

	for _, w := range out.Warnings {
		logger.Warn("Field left unmerged", "kind", w.Kind, "key", w.Key, "reason", w.Message)
	}
	return out, nil
}

func (m *Merger) attachPhoto(ctx context.Context, doc *document.Person, pageID string, ref time.Time) (bool, error) {
	if pageID == "" || m.Photos == nil {
		return false, apperrors.ErrNotFound
	}
	data, err := m.Photos.Get(ctx, pageID)
	if err != nil {
		return false, err
	}
	ModifyProfilePhoto(doc, data, ref.Year())
	return true, nil
}

// UpsertProfileInformation sets the en_GB value of the entry labelled label,
// or appends a new entry with type uri when there is none. It reports whether
// an existing entry was updated.
func UpsertProfileInformation(doc *document.Person, label, uri, value string) bool {
	for i := range doc.ProfileInformation {
		info := &doc.ProfileInformation[i]
		if info.Type.Label() != label {
			continue
		}
		if info.Value == nil {
			info.Value = document.LocalizedString{}
		}
		info.Value[locale] = value
		return true
	}
	doc.ProfileInformation = append(doc.ProfileInformation, document.ProfileInformation{
		Type: &document.Classification{
			URI:  uri,
			Term: document.LocalizedString{locale: label},
		},
		Value: document.LocalizedString{locale: value},
	})
	return false
}

// StaffPageLink renders <p><a href="url">url</a></p>.
func StaffPageLink(url string) (string, error) {
	a := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr:     []html.Attribute{{Key: "href", Val: url}},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: url})
	p := &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P}
	p.AppendChild(a)

	var buf bytes.Buffer
	if err := html.Render(&buf, p); err != nil {
		return "", fmt.Errorf("render staff page link: %w", err)
	}
	return buf.String(), nil
}

// ModifyEmail places email on the first staff association whose period
// contains ref. If that association already has emails, the first existing
// value is returned and nothing changes. Otherwise email is appended and
// returned with added set. Associations without a current period are never
// touched. matched is false when no association qualified.
func ModifyEmail(doc *document.Person, ref time.Time, email string) (value string, added, matched bool) {
	for i := range doc.StaffOrganizationAssociations {
		assoc := &doc.StaffOrganizationAssociations[i]
		if !assoc.Period.Contains(ref) {
			continue
		}
		if len(assoc.Emails) > 0 {
			return assoc.Emails[0].Value, false, true
		}
		assoc.Emails = append(assoc.Emails, document.Email{
			Value: email,
			Type: &document.Classification{
				URI:  EmailTypeURI,
				Term: document.LocalizedString{locale: EmailTypeLabel},
			},
		})
		return email, true, true
	}
	return "", false, false
}

// ModifyProfilePhoto appends a portrait built from data to the document's
// profile photos.
func ModifyProfilePhoto(doc *document.Person, data []byte, year int) {
	confirmed := true
	doc.ProfilePhotos = append(doc.ProfilePhotos, document.ProfilePhoto{
		FileName:              PhotoFileName,
		MimeType:              PhotoMimeType,
		Size:                  int64(len(data)),
		FileData:              base64.StdEncoding.EncodeToString(data),
		CopyrightConfirmation: &confirmed,
		Type: &document.Classification{
			URI:  PhotoTypeURI,
			Term: document.LocalizedString{locale: PhotoTypeLabel},
		},
		Caption:            document.LocalizedString{"en": "Profile photo"},
		AltText:            document.LocalizedString{"en": "A profile picture"},
		CopyrightStatement: document.LocalizedString{"en": fmt.Sprintf("© %d by User", year)},
	})
}
