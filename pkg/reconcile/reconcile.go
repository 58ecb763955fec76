// Package reconcile joins registry identities with the directory pages found
// for their employee ids.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mscno/staffsync/pkg/logging"
	"github.com/mscno/staffsync/pkg/model"
)

// DefaultBatchSize is the number of employee ids sent per lookup.
const DefaultBatchSize = 50

// Lookup is the directory's identifier search.
type Lookup interface {
	LookupEmployees(ctx context.Context, ids []string) ([]model.DirectoryPage, error)
}

// Reconciler turns identities into consolidated records.
type Reconciler struct {
	Lookup    Lookup
	BatchSize int
	// Concurrency bounds the lookups in flight. Output order does not depend on it.
	Concurrency int
	Logger      *slog.Logger
}

// Reconcile looks up the identities in batches, in input order, and returns
// one record per matching directory page. Records are concatenated in batch
// order; empty records and exact duplicates are dropped, the first occurrence
// is kept. Any failed lookup aborts the run and no records are returned.
func (r *Reconciler) Reconcile(ctx context.Context, identities []model.DirectoryIdentity) ([]model.ConsolidatedRecord, error) {
	logger := logging.Component(r.Logger, "reconcile")

	batches := chunk(identities, r.batchSize())
	results := make([][]model.ConsolidatedRecord, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i, batch := range batches {
		g.Go(func() error {
			records, err := r.reconcileBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("reconcile batch %d/%d: %w", i+1, len(batches), err)
			}
			results[i] = records
			logger.Info("Reconciled batch", "batch", i+1, "of", len(batches), "ids", len(batch), "records", len(records))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.ConsolidatedRecord
	for _, records := range results {
		all = append(all, records...)
	}
	out := Dedupe(all)
	logger.Info("Reconciliation finished", "identities", len(identities), "records", len(out), "dropped", len(all)-len(out))
	return out, nil
}

func (r *Reconciler) batchSize() int {
	if r.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.BatchSize
}

func (r *Reconciler) reconcileBatch(ctx context.Context, batch []model.DirectoryIdentity) ([]model.ConsolidatedRecord, error) {
	ids := make([]string, len(batch))
	uuids := make(map[string]string, len(batch))
	for i, identity := range batch {
		ids[i] = identity.EmployeeID
		key := model.NormalizeEmployeeID(identity.EmployeeID)
		if _, ok := uuids[key]; !ok {
			uuids[key] = identity.UUID
		}
	}
	pages, err := r.Lookup.LookupEmployees(ctx, ids)
	if err != nil {
		return nil, err
	}
	var records []model.ConsolidatedRecord
	for _, page := range pages {
		employeeID := model.NormalizeEmployeeID(page.SolisID)
		if employeeID == "" {
			continue
		}
		staffURL := page.StaffPageURL()
		if staffURL == "" {
			continue
		}
		records = append(records, model.ConsolidatedRecord{
			UUID:          uuids[employeeID],
			EmployeeID:    employeeID,
			Email:         page.Email,
			DescriptionEN: page.DescriptionEN,
			DescriptionNL: page.DescriptionNL,
			PhotoURL:      page.PhotoURL,
			StaffPageURL:  staffURL,
			PhotoConsent:  page.PhotoConsent,
			PageID:        PageID(staffURL),
		})
	}
	return records, nil
}

// PageID returns the last path segment of a staff page URL.
func PageID(staffURL string) string {
	p := staffURL
	if u, err := url.Parse(staffURL); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Dedupe drops empty records and exact duplicates, keeping the first occurrence.
func Dedupe(records []model.ConsolidatedRecord) []model.ConsolidatedRecord {
	seen := make(map[model.ConsolidatedRecord]struct{}, len(records))
	out := make([]model.ConsolidatedRecord, 0, len(records))
	for _, rec := range records {
		if rec.IsZero() {
			continue
		}
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
