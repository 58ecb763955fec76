// Package export writes the run's audit artifacts: the consolidated record
// snapshot and the identities as CSV, the merged documents and the directory
// dump as JSON. The snapshot can be read back to drive a later update.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mscno/staffsync/pkg/document"
	"github.com/mscno/staffsync/pkg/model"
)

// RecordColumns is the header of the record snapshot.
var RecordColumns = []string{
	"SOLIS_ID",
	"UUID",
	"Email",
	"DescriptionEN",
	"DescriptionNL",
	"UrlProfielfoto",
	"UrlEN",
	"ToestemmingProfielfotoInExterneApps",
	"UUSTAFF_PAGE_ID",
}

// IdentityColumns is the header of the identities file.
var IdentityColumns = []string{"uuid", "employee_id"}

func recordRow(r model.ConsolidatedRecord) []string {
	return []string{
		r.EmployeeID,
		r.UUID,
		r.Email,
		r.DescriptionEN,
		r.DescriptionNL,
		r.PhotoURL,
		r.StaffPageURL,
		r.PhotoConsent.String(),
		r.PageID,
	}
}

// EncodeRecords writes records as CSV with a RecordColumns header.
func EncodeRecords(w io.Writer, records []model.ConsolidatedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(recordRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeRecords reads a record snapshot. Columns are matched by header name,
// so their order does not matter; missing columns decode as empty.
func DecodeRecords(r io.Reader) ([]model.ConsolidatedRecord, error) {
	rows, err := readTable(r)
	if err != nil {
		return nil, err
	}
	records := make([]model.ConsolidatedRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, model.ConsolidatedRecord{
			EmployeeID:    model.NormalizeEmployeeID(row["SOLIS_ID"]),
			UUID:          row["UUID"],
			Email:         row["Email"],
			DescriptionEN: row["DescriptionEN"],
			DescriptionNL: row["DescriptionNL"],
			PhotoURL:      row["UrlProfielfoto"],
			StaffPageURL:  row["UrlEN"],
			PhotoConsent:  model.ParseConsent(row["ToestemmingProfielfotoInExterneApps"]),
			PageID:        row["UUSTAFF_PAGE_ID"],
		})
	}
	return records, nil
}

// EncodeIdentities writes identities as CSV with an IdentityColumns header.
func EncodeIdentities(w io.Writer, identities []model.DirectoryIdentity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(IdentityColumns); err != nil {
		return err
	}
	for _, id := range identities {
		if err := cw.Write([]string{id.UUID, id.EmployeeID}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeIdentities reads an identities file.
func DecodeIdentities(r io.Reader) ([]model.DirectoryIdentity, error) {
	rows, err := readTable(r)
	if err != nil {
		return nil, err
	}
	identities := make([]model.DirectoryIdentity, 0, len(rows))
	for _, row := range rows {
		identities = append(identities, model.DirectoryIdentity{
			UUID:       row["uuid"],
			EmployeeID: model.NormalizeEmployeeID(row["employee_id"]),
		})
	}
	return identities, nil
}

func readTable(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file: no header row found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	var rows []map[string]string
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DocumentsFile is the shape of the merged documents export.
type DocumentsFile struct {
	Results []*document.Person `json:"results"`
}

// EncodeDocuments writes docs as {"results": [...]}.
func EncodeDocuments(w io.Writer, docs []*document.Person) error {
	if docs == nil {
		docs = []*document.Person{}
	}
	return EncodeJSON(w, DocumentsFile{Results: docs})
}

// EncodeJSON writes v as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

// WriteFile creates path, including its parent directory, and fills it with encode.
func WriteFile(path string, encode func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ReadFile opens path and decodes it with decode.
func ReadFile[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	v, err := decode(f)
	if err != nil {
		return v, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

// WriteRecords writes the record snapshot to path.
func WriteRecords(path string, records []model.ConsolidatedRecord) error {
	return WriteFile(path, func(w io.Writer) error { return EncodeRecords(w, records) })
}

// ReadRecords reads the record snapshot at path.
func ReadRecords(path string) ([]model.ConsolidatedRecord, error) {
	return ReadFile(path, DecodeRecords)
}

func WriteIdentities(path string, identities []model.DirectoryIdentity) error {
	return WriteFile(path, func(w io.Writer) error { return EncodeIdentities(w, identities) })
}

func ReadIdentities(path string) ([]model.DirectoryIdentity, error) {
	return ReadFile(path, DecodeIdentities)
}

// WriteDocuments writes the merged documents export to path.
func WriteDocuments(path string, docs []*document.Person) error {
	return WriteFile(path, func(w io.Writer) error { return EncodeDocuments(w, docs) })
}

// WriteJSON writes v to path as indented JSON.
func WriteJSON(path string, v any) error {
	return WriteFile(path, func(w io.Writer) error { return EncodeJSON(w, v) })
}
