package photos

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/model"
)

type fakeDownloader struct {
	mu     sync.Mutex
	photos map[string][]byte
	calls  []string
}

func (f *fakeDownloader) FetchPhoto(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	data, ok := f.photos[rawURL]
	if !ok {
		return nil, errors.New("404 Not Found")
	}
	return data, nil
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }
func (failingStore) Put(context.Context, string, []byte) error   { return errors.New("disk full") }
func (failingStore) Close() error                                { return nil }

func TestFetcher_Fetch(t *testing.T) {
	dl := &fakeDownloader{photos: map[string][]byte{
		"https://www.uu.nl/a.jpg": {0xff, 0xd8},
	}}
	store := NewMemoryStore()
	f := &Fetcher{Downloader: dl, Store: store, Concurrency: 4}

	records := []model.ConsolidatedRecord{
		{UUID: "u1", EmployeeID: "E1", PageID: "AJansen", PhotoURL: "https://www.uu.nl/a.jpg", PhotoConsent: model.ConsentGranted},
		{UUID: "u1b", EmployeeID: "E1", PageID: "AJansen", PhotoURL: "https://www.uu.nl/a.jpg", PhotoConsent: model.ConsentGranted},
		{UUID: "u2", EmployeeID: "E2", PageID: "BPietersen", PhotoURL: "https://www.uu.nl/b.jpg", PhotoConsent: model.ConsentGranted},
		{UUID: "u3", EmployeeID: "E3", PageID: "CDeVries", PhotoURL: "https://www.uu.nl/c.jpg", PhotoConsent: model.ConsentWithheld},
		{UUID: "u4", EmployeeID: "E4", PageID: "DBakker", PhotoURL: "https://www.uu.nl/d.jpg"},
		{UUID: "u5", EmployeeID: "E5", PageID: "", PhotoURL: "https://www.uu.nl/e.jpg", PhotoConsent: model.ConsentGranted},
		{UUID: "u6", EmployeeID: "E6", PageID: "FSmit", PhotoConsent: model.ConsentGranted},
	}
	report, err := f.Fetch(context.Background(), records)
	assert.NoError(t, err)
	assert.Equal(t, 2, report.Eligible)
	assert.Equal(t, 1, report.Stored)
	assert.Equal(t, 1, len(report.Warnings))
	assert.Equal(t, apperrors.KindDownload, report.Warnings[0].Kind)
	assert.Equal(t, "BPietersen", report.Warnings[0].Key)
	assert.Equal(t, 2, len(dl.calls))

	got, err := store.Get(context.Background(), "AJansen")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, got)
}

func TestFetcher_StoreFailureAborts(t *testing.T) {
	dl := &fakeDownloader{photos: map[string][]byte{"https://www.uu.nl/a.jpg": {1}}}
	f := &Fetcher{Downloader: dl, Store: failingStore{}}

	_, err := f.Fetch(context.Background(), []model.ConsolidatedRecord{
		{UUID: "u1", EmployeeID: "E1", PageID: "AJansen", PhotoURL: "https://www.uu.nl/a.jpg", PhotoConsent: model.ConsentGranted},
	})
	assert.EqualError(t, err, "disk full")
}
