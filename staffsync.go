// Package staffsync syncs staff profiles from the public staff directory into
// the research-information registry.
//
// A run has two phases. Harvest lists the active registry persons, reconciles
// their employee ids with the directory and downloads consented photos; it
// writes the records and identities as CSV snapshots. Update merges the
// records into the registry documents and writes them back. Sync runs both in
// one process.
package staffsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mscno/staffsync/pkg/config"
	"github.com/mscno/staffsync/pkg/directory"
	"github.com/mscno/staffsync/pkg/document"
	"github.com/mscno/staffsync/pkg/export"
	"github.com/mscno/staffsync/pkg/logging"
	"github.com/mscno/staffsync/pkg/merge"
	"github.com/mscno/staffsync/pkg/metrics"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/pkg/photos"
	"github.com/mscno/staffsync/pkg/reconcile"
	"github.com/mscno/staffsync/pkg/registry"
	"github.com/mscno/staffsync/pkg/updater"
)

// Syncer runs the sync stages against one configuration.
type Syncer struct {
	Config    *config.Config
	Directory directory.Client
	Registry  registry.Client
	Photos    photos.Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Now is the reference time for association periods. Defaults to time.Now.
	Now func() time.Time
}

// New builds a Syncer and its clients from cfg. Registry settings are only
// required when needRegistry is set. The caller must Close the Syncer.
func New(ctx context.Context, cfg *config.Config, needRegistry bool, logger *slog.Logger) (*Syncer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := directory.NewAPIClient(directory.ClientConfig{
		BaseURL:           cfg.Directory.BaseURL,
		UserAgent:         cfg.Directory.UserAgent,
		MaxFaculties:      cfg.Directory.MaxFaculties,
		RequestsPerSecond: cfg.Directory.RequestsPerSecond,
		Timeout:           cfg.Directory.Timeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	s := &Syncer{
		Config:    cfg,
		Directory: dir,
		Metrics:   metrics.New(),
		Logger:    logger,
	}

	if needRegistry {
		if err := cfg.RequireRegistry(); err != nil {
			return nil, err
		}
		var oauth *registry.OAuthConfig
		if cfg.Registry.OAuth.ClientID != "" {
			oauth = &registry.OAuthConfig{
				ClientID:     cfg.Registry.OAuth.ClientID,
				ClientSecret: cfg.Registry.OAuth.ClientSecret,
				TokenURL:     cfg.Registry.OAuth.TokenURL,
				Scopes:       cfg.Registry.OAuth.Scopes,
			}
		}
		reg, err := registry.NewAPIClient(registry.ClientConfig{
			BaseURL:           cfg.Registry.BaseURL,
			SearchURL:         cfg.Registry.SearchURL,
			LegacyPersonsURL:  cfg.Registry.LegacyPersonsURL,
			APIKey:            cfg.Registry.APIKey,
			LegacyAPIKey:      cfg.Registry.LegacyAPIKey,
			LegacyPageSize:    cfg.Registry.LegacyPageSize,
			RequestsPerSecond: cfg.Registry.RequestsPerSecond,
			Timeout:           cfg.Registry.Timeout,
			OAuth:             oauth,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		s.Registry = reg
	}

	store, err := photos.Open(ctx, cfg.Photos)
	if err != nil {
		return nil, fmt.Errorf("open photo store: %w", err)
	}
	s.Photos = store
	return s, nil
}

// Close releases the photo store.
func (s *Syncer) Close() error {
	if s.Photos == nil {
		return nil
	}
	return s.Photos.Close()
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Syncer) exportPath(name string) string {
	return filepath.Join(s.Config.Export.Dir, name)
}

// RecordsPath is where Harvest writes the record snapshot and Update reads it.
func (s *Syncer) RecordsPath() string { return s.exportPath(s.Config.Export.RecordsFile) }

// startRun attaches a fresh run id to ctx and returns the run logger.
func (s *Syncer) startRun(ctx context.Context, stage string) (context.Context, *slog.Logger) {
	if logging.RunID(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}
	logger := logging.FromContext(ctx, s.Logger).With("stage", stage)
	return ctx, logger
}

// HarvestResult is the output of Harvest.
type HarvestResult struct {
	Identities []model.DirectoryIdentity
	Records    []model.ConsolidatedRecord
	Photos     *photos.FetchReport
}

// Harvest lists the active persons, reconciles them with the directory,
// writes the identities and record snapshots and stores consented photos.
func (s *Syncer) Harvest(ctx context.Context) (*HarvestResult, error) {
	ctx, logger := s.startRun(ctx, "harvest")
	if s.Registry == nil {
		return nil, errors.New("harvest needs a registry client")
	}

	start := time.Now()
	identities, err := s.Registry.ActivePersons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active persons: %w", err)
	}
	s.Metrics.Count(metrics.Identities, len(identities))
	if err := export.WriteIdentities(s.exportPath(s.Config.Export.IdentitiesFile), identities); err != nil {
		return nil, err
	}
	s.Metrics.Stage("identities", time.Since(start))

	start = time.Now()
	rec := &reconcile.Reconciler{
		Lookup:      s.Directory,
		BatchSize:   s.Config.Directory.LookupBatchSize,
		Concurrency: s.Config.Sync.Concurrency,
		Logger:      logger,
	}
	records, err := rec.Reconcile(ctx, identities)
	if err != nil {
		return nil, err
	}
	s.Metrics.Count(metrics.Records, len(records))
	if err := export.WriteRecords(s.RecordsPath(), records); err != nil {
		return nil, err
	}
	s.Metrics.Stage("reconcile", time.Since(start))

	start = time.Now()
	fetcher := &photos.Fetcher{
		Downloader:  s.Directory,
		Store:       s.Photos,
		Concurrency: s.Config.Sync.Concurrency,
		Logger:      logger,
	}
	photoReport, err := fetcher.Fetch(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("fetch photos: %w", err)
	}
	s.Metrics.Count(metrics.PhotosStored, photoReport.Stored)
	s.Metrics.Warn(photoReport.Warnings...)
	s.Metrics.Stage("photos", time.Since(start))

	s.Metrics.Succeeded(s.now())
	logger.Info("Harvest finished", "identities", len(identities), "records", len(records), "photos", photoReport.Stored)
	return &HarvestResult{Identities: identities, Records: records, Photos: photoReport}, nil
}

// UpdateOptions controls Update.
type UpdateOptions struct {
	// EmployeeID limits the update to the records of one employee.
	EmployeeID string
	DryRun     bool
}

// Update merges records into their registry documents, exports the merged
// documents and, unless DryRun is set, writes them back.
func (s *Syncer) Update(ctx context.Context, records []model.ConsolidatedRecord, opts UpdateOptions) (*updater.Report, error) {
	ctx, logger := s.startRun(ctx, "update")
	if s.Registry == nil {
		return nil, errors.New("update needs a registry client")
	}
	if opts.EmployeeID != "" {
		records = FilterByEmployeeID(records, opts.EmployeeID)
		if len(records) == 0 {
			logger.Info("No records for employee", "employee_id", opts.EmployeeID)
			return &updater.Report{}, nil
		}
	}

	start := time.Now()
	u := &updater.Updater{
		Registry: s.Registry,
		Merger: &merge.Merger{
			ProfileURI: s.Config.Registry.ProfileURI,
			Photos:     s.Photos,
			Logger:     logger,
		},
		BatchSize:   s.Config.Registry.SearchBatchSize,
		PageSize:    s.Config.Registry.SearchPageSize,
		Concurrency: s.Config.Sync.Concurrency,
		DryRun:      opts.DryRun,
		Export: func(docs []*document.Person) error {
			return export.WriteDocuments(s.exportPath(s.Config.Export.DocumentsFile), docs)
		},
		Now:     s.now,
		Metrics: s.Metrics,
		Logger:  logger,
	}
	report, err := u.Update(ctx, records)
	s.Metrics.Stage("update", time.Since(start))
	if err != nil {
		return report, err
	}
	s.Metrics.Succeeded(s.now())
	logger.Info("Update finished",
		"records", report.Records,
		"documents", report.Fetched,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed(),
		"warnings", len(report.Warnings),
	)
	return report, nil
}

// UpdateFromSnapshot runs Update on the record snapshot written by Harvest.
func (s *Syncer) UpdateFromSnapshot(ctx context.Context, opts UpdateOptions) (*updater.Report, error) {
	records, err := export.ReadRecords(s.RecordsPath())
	if err != nil {
		return nil, fmt.Errorf("read record snapshot: %w", err)
	}
	return s.Update(ctx, records, opts)
}

// SyncResult is the output of Sync.
type SyncResult struct {
	Harvest *HarvestResult
	Update  *updater.Report
}

// Sync runs Harvest and Update in one run, passing the records in memory.
func (s *Syncer) Sync(ctx context.Context, opts UpdateOptions) (*SyncResult, error) {
	ctx, _ = s.startRun(ctx, "sync")
	harvest, err := s.Harvest(ctx)
	if err != nil {
		return nil, err
	}
	report, err := s.Update(ctx, harvest.Records, opts)
	if err != nil {
		return &SyncResult{Harvest: harvest, Update: report}, err
	}
	return &SyncResult{Harvest: harvest, Update: report}, nil
}

// DumpDirectory harvests the directory's employee pages into the harvest file
// and returns the number of pages written.
func (s *Syncer) DumpDirectory(ctx context.Context) (int, error) {
	ctx, logger := s.startRun(ctx, "directory")
	details, err := s.Directory.HarvestEmployees(ctx, s.Config.Directory.MaxRecords)
	if err != nil {
		return 0, err
	}
	if details == nil {
		details = []model.EmployeeDetail{}
	}
	path := s.exportPath(s.Config.Directory.HarvestFile)
	if err := export.WriteJSON(path, details); err != nil {
		return 0, err
	}
	logger.Info("Directory dump written", "path", path, "pages", len(details))
	return len(details), nil
}

// PushMetrics pushes the run metrics when a Pushgateway is configured.
func (s *Syncer) PushMetrics(ctx context.Context, stage string) error {
	return s.Metrics.Push(ctx, s.Config.Metrics.PushgatewayURL, s.Config.Metrics.Job, map[string]string{"stage": stage})
}

// FilterByEmployeeID returns the records of employeeID, compared case-insensitively.
func FilterByEmployeeID(records []model.ConsolidatedRecord, employeeID string) []model.ConsolidatedRecord {
	want := model.NormalizeEmployeeID(employeeID)
	var out []model.ConsolidatedRecord
	for _, rec := range records {
		if model.NormalizeEmployeeID(rec.EmployeeID) == want {
			out = append(out, rec)
		}
	}
	return out
}
