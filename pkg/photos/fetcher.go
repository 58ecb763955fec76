package photos

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/logging"
	"github.com/mscno/staffsync/pkg/model"
)

// Downloader fetches the bytes at a photo URL.
type Downloader interface {
	FetchPhoto(ctx context.Context, rawURL string) ([]byte, error)
}

// Fetcher downloads the photos of consenting staff into a Store.
type Fetcher struct {
	Downloader  Downloader
	Store       Store
	Concurrency int
	Logger      *slog.Logger
}

// FetchReport summarizes one Fetch.
type FetchReport struct {
	Eligible int
	Stored   int
	Warnings []*apperrors.Warning
}

// Fetch stores the photo of every record with granted consent, a photo URL
// and a page id, keyed by page id. A page id is downloaded once even if
// several records share it. Download failures become warnings; a failing
// Store aborts the sweep.
func (f *Fetcher) Fetch(ctx context.Context, records []model.ConsolidatedRecord) (*FetchReport, error) {
	logger := logging.Component(f.Logger, "photos")

	type job struct{ pageID, url string }
	var jobs []job
	seen := make(map[string]bool)
	for _, rec := range records {
		if !rec.HasPhotoConsent() || rec.PhotoURL == "" || rec.PageID == "" || seen[rec.PageID] {
			continue
		}
		seen[rec.PageID] = true
		jobs = append(jobs, job{pageID: rec.PageID, url: rec.PhotoURL})
	}

	report := &FetchReport{Eligible: len(jobs)}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.Concurrency, 1))
	for _, j := range jobs {
		g.Go(func() error {
			data, err := f.Downloader.FetchPhoto(ctx, j.url)
			if err == nil && len(data) == 0 {
				err = fmt.Errorf("empty response")
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w := apperrors.NewWarning(apperrors.KindDownload, j.pageID, "photo download failed: %v", err)
				logger.Warn("Photo download failed", "page_id", j.pageID, "error", err)
				mu.Lock()
				report.Warnings = append(report.Warnings, w)
				mu.Unlock()
				return nil
			}
			if err := f.Store.Put(ctx, j.pageID, data); err != nil {
				return err
			}
			mu.Lock()
			report.Stored++
			mu.Unlock()
			logger.Debug("Stored photo", "page_id", j.pageID, "bytes", len(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	logger.Info("Fetched photos", "eligible", report.Eligible, "stored", report.Stored, "failed", len(report.Warnings))
	return report, nil
}
