// Package updater fetches the registry documents of consolidated records in
// batches, merges each with its record and writes the results back.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/document"
	"github.com/mscno/staffsync/pkg/logging"
	"github.com/mscno/staffsync/pkg/merge"
	"github.com/mscno/staffsync/pkg/metrics"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/pkg/registry"
)

const (
	DefaultBatchSize = 50
	DefaultPageSize  = 100
)

// Registry is the part of the registry client the updater uses.
type Registry interface {
	SearchPersons(ctx context.Context, uuids []string, size, offset int) (*registry.SearchResult, error)
	PutPerson(ctx context.Context, doc *document.Person) error
}

// Updater runs the fetch, merge and write-back of one update.
type Updater struct {
	Registry Registry
	Merger   *merge.Merger
	// BatchSize is the number of uuids per search, PageSize the size sent with it.
	BatchSize int
	PageSize  int
	// Concurrency bounds the write-backs in flight. Each uuid is written at most once.
	Concurrency int
	// DryRun merges but never writes.
	DryRun bool
	// Export, when set, receives the merged documents before any write.
	Export  func(docs []*document.Person) error
	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Report summarizes an update.
type Report struct {
	Records   int
	Searched  int
	Fetched   int
	Merged    int
	Attempted int
	Succeeded int
	Failures  []*apperrors.WriteFailure
	Warnings  []*apperrors.Warning
	Documents []*document.Person
}

// Failed returns the number of failed writes.
func (r *Report) Failed() int { return len(r.Failures) }

// Update merges records into their registry documents and writes them back.
// A failed search aborts the update before anything is written. A failed
// write is recorded in the report and the remaining writes go ahead.
func (u *Updater) Update(ctx context.Context, records []model.ConsolidatedRecord) (*Report, error) {
	logger := u.logger()
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	ref := now()

	byUUID := make(map[string]model.ConsolidatedRecord, len(records))
	var uuids []string
	for _, rec := range records {
		if rec.UUID == "" {
			logger.Debug("Skipping record without uuid", "employee_id", rec.EmployeeID)
			continue
		}
		if _, ok := byUUID[rec.UUID]; ok {
			continue
		}
		byUUID[rec.UUID] = rec
		uuids = append(uuids, rec.UUID)
	}
	report := &Report{Records: len(records), Searched: len(uuids)}

	docs, err := u.fetch(ctx, uuids, report)
	if err != nil {
		return report, err
	}

	for _, doc := range docs {
		rec := byUUID[doc.UUID]
		out, err := u.Merger.Merge(ctx, doc, rec, rec.HasPhotoConsent(), ref)
		if err != nil {
			return report, fmt.Errorf("merge %s: %w", doc.UUID, err)
		}
		report.Warnings = append(report.Warnings, out.Warnings...)
		u.Metrics.Warn(out.Warnings...)
		report.Merged++
	}
	u.Metrics.Count(metrics.Merged, report.Merged)
	report.Documents = docs
	logger.Info("Merged documents", "documents", report.Merged, "warnings", len(report.Warnings))

	if u.Export != nil {
		if err := u.Export(docs); err != nil {
			return report, fmt.Errorf("export documents: %w", err)
		}
	}
	if u.DryRun {
		logger.Info("Dry run, skipping write-back", "documents", len(docs))
		return report, nil
	}

	u.write(ctx, docs, report)
	logger.Info("Write-back finished", "attempted", report.Attempted, "succeeded", report.Succeeded, "failed", report.Failed())
	for _, f := range report.Failures {
		logger.Error("Write-back failed", "uuid", f.UUID, "error", f.Err)
	}
	return report, nil
}

// fetch returns one document per uuid found, in search order.
func (u *Updater) fetch(ctx context.Context, uuids []string, report *Report) ([]*document.Person, error) {
	logger := u.logger()
	batchSize, pageSize := u.BatchSize, u.PageSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if batchSize > pageSize {
		return nil, fmt.Errorf("search batch size %d exceeds page size %d", batchSize, pageSize)
	}

	var docs []*document.Person
	found := make(map[string]bool, len(uuids))
	for start := 0; start < len(uuids); start += batchSize {
		batch := uuids[start:min(start+batchSize, len(uuids))]
		wanted := make(map[string]bool, len(batch))
		for _, id := range batch {
			wanted[id] = true
		}
		res, err := u.Registry.SearchPersons(ctx, batch, pageSize, 0)
		if err != nil {
			return nil, fmt.Errorf("search persons %d-%d: %w", start+1, start+len(batch), err)
		}
		if res.Count > len(res.Items) {
			w := apperrors.NewWarning(apperrors.KindTruncation, fmt.Sprintf("batch %d", start/batchSize+1),
				"search reported %d matches but returned %d", res.Count, len(res.Items))
			logger.Warn("Search result truncated", "count", res.Count, "returned", len(res.Items))
			report.Warnings = append(report.Warnings, w)
			u.Metrics.Warn(w)
		}
		for _, doc := range res.Items {
			if doc == nil || !wanted[doc.UUID] || found[doc.UUID] {
				continue
			}
			found[doc.UUID] = true
			docs = append(docs, doc)
		}
		logger.Info("Fetched documents", "batch", start/batchSize+1, "uuids", len(batch), "documents", len(res.Items))
	}
	for _, id := range uuids {
		if !found[id] {
			w := apperrors.NewWarning(apperrors.KindDocument, id, "no registry document")
			logger.Warn("No registry document", "uuid", id)
			report.Warnings = append(report.Warnings, w)
			u.Metrics.Warn(w)
		}
	}
	report.Fetched = len(docs)
	return docs, nil
}

func (u *Updater) write(ctx context.Context, docs []*document.Person, report *Report) {
	errs := make([]error, len(docs))
	var g errgroup.Group
	g.SetLimit(max(u.Concurrency, 1))
	for i, doc := range docs {
		g.Go(func() error {
			errs[i] = u.Registry.PutPerson(ctx, doc)
			u.Metrics.Write(errs[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, doc := range docs {
		report.Attempted++
		if errs[i] != nil {
			report.Failures = append(report.Failures, &apperrors.WriteFailure{UUID: doc.UUID, Err: errs[i]})
			continue
		}
		report.Succeeded++
	}
}

func (u *Updater) logger() *slog.Logger {
	return logging.Component(u.Logger, "updater")
}
