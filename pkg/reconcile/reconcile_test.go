package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/directory"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/testutl"
)

type fakeLookup struct {
	mu    sync.Mutex
	pages map[string][]model.DirectoryPage
	// extra is returned for every batch, regardless of the ids asked for.
	extra  []model.DirectoryPage
	failOn int
	calls  [][]string
}

func (f *fakeLookup) LookupEmployees(_ context.Context, ids []string) ([]model.DirectoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, &apperrors.UpstreamError{Op: "directory lookup", StatusCode: 500}
	}
	var out []model.DirectoryPage
	for _, id := range ids {
		out = append(out, f.pages[strings.ToUpper(id)]...)
	}
	return append(out, f.extra...), nil
}

func identities(n int) []model.DirectoryIdentity {
	out := make([]model.DirectoryIdentity, n)
	for i := range out {
		out[i] = model.DirectoryIdentity{EmployeeID: fmt.Sprintf("E%d", i), UUID: fmt.Sprintf("u%d", i)}
	}
	return out
}

func TestReconcile_BatchesInInputOrder(t *testing.T) {
	lookup := &fakeLookup{pages: map[string][]model.DirectoryPage{}}
	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("E%d", i)
		lookup.pages[id] = []model.DirectoryPage{{SolisID: strings.ToLower(id), URLEN: "https://www.uu.nl/staff/P" + id}}
	}
	r := &Reconciler{Lookup: lookup}

	records, err := r.Reconcile(context.Background(), identities(120))
	assert.NoError(t, err)
	assert.Equal(t, 3, len(lookup.calls))
	assert.Equal(t, 50, len(lookup.calls[0]))
	assert.Equal(t, 50, len(lookup.calls[1]))
	assert.Equal(t, 20, len(lookup.calls[2]))
	assert.Equal(t, "E0", lookup.calls[0][0])
	assert.Equal(t, "E119", lookup.calls[2][19])

	assert.Equal(t, 120, len(records))
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("E%d", i), rec.EmployeeID)
		assert.Equal(t, fmt.Sprintf("u%d", i), rec.UUID)
		assert.Equal(t, fmt.Sprintf("PE%d", i), rec.PageID)
	}
}

func TestReconcile_ConcurrentKeepsOrder(t *testing.T) {
	lookup := &fakeLookup{pages: map[string][]model.DirectoryPage{}}
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("E%d", i)
		lookup.pages[id] = []model.DirectoryPage{{SolisID: id, URLNL: "https://www.uu.nl/medewerkers/" + id}}
	}
	r := &Reconciler{Lookup: lookup, BatchSize: 4, Concurrency: 8}

	records, err := r.Reconcile(context.Background(), identities(30))
	assert.NoError(t, err)
	assert.Equal(t, 8, len(lookup.calls))
	assert.Equal(t, 30, len(records))
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("E%d", i), rec.EmployeeID)
	}
}

func TestReconcile_PageHandling(t *testing.T) {
	lookup := &fakeLookup{pages: map[string][]model.DirectoryPage{
		"E1": {
			{SolisID: "e1", URLEN: "https://www.uu.nl/staff/AJansen", URLNL: "https://www.uu.nl/medewerkers/AJansen-nl", DescriptionEN: "Hydrology", PhotoConsent: model.ConsentGranted, PhotoURL: "https://www.uu.nl/a.jpg", Email: "a@uu.nl"},
			{SolisID: "E1", URLNL: "https://www.uu.nl/medewerkers/AJansen2/"},
		},
		"E2": {
			{SolisID: "", URLEN: "https://www.uu.nl/staff/Nobody"},
			{SolisID: "E2"},
		},
		"E3": {},
	}}
	r := &Reconciler{Lookup: lookup}

	records, err := r.Reconcile(context.Background(), []model.DirectoryIdentity{
		{EmployeeID: "e1", UUID: "u1"},
		{EmployeeID: "E2", UUID: "u2"},
		{EmployeeID: "E3", UUID: "u3"},
	})
	assert.NoError(t, err)
	assert.Equal(t, []model.ConsolidatedRecord{
		{
			UUID:          "u1",
			EmployeeID:    "E1",
			Email:         "a@uu.nl",
			DescriptionEN: "Hydrology",
			PhotoURL:      "https://www.uu.nl/a.jpg",
			StaffPageURL:  "https://www.uu.nl/staff/AJansen",
			PhotoConsent:  model.ConsentGranted,
			PageID:        "AJansen",
		},
		{UUID: "u1", EmployeeID: "E1", StaffPageURL: "https://www.uu.nl/medewerkers/AJansen2/", PageID: "AJansen2"},
	}, records)
}

func TestReconcile_UUIDResolvedWithinBatchOnly(t *testing.T) {
	lookup := &fakeLookup{pages: map[string][]model.DirectoryPage{
		"E0": {{SolisID: "E0", URLEN: "https://www.uu.nl/staff/Zero"}},
	}}
	// Every lookup also returns a page for E2, which is only in the second batch.
	lookup.extra = []model.DirectoryPage{{SolisID: "E2", URLEN: "https://www.uu.nl/staff/Two"}}
	r := &Reconciler{Lookup: lookup, BatchSize: 2}

	records, err := r.Reconcile(context.Background(), identities(3))
	assert.NoError(t, err)
	assert.Equal(t, []model.ConsolidatedRecord{
		{UUID: "u0", EmployeeID: "E0", StaffPageURL: "https://www.uu.nl/staff/Zero", PageID: "Zero"},
		{UUID: "", EmployeeID: "E2", StaffPageURL: "https://www.uu.nl/staff/Two", PageID: "Two"},
		{UUID: "u2", EmployeeID: "E2", StaffPageURL: "https://www.uu.nl/staff/Two", PageID: "Two"},
	}, records)
}

func TestReconcile_DuplicatesAcrossBatches(t *testing.T) {
	lookup := &fakeLookup{extra: []model.DirectoryPage{{SolisID: "E9", URLEN: "https://www.uu.nl/staff/Nine"}}}
	r := &Reconciler{Lookup: lookup, BatchSize: 1}

	records, err := r.Reconcile(context.Background(), identities(3))
	assert.NoError(t, err)
	assert.Equal(t, []model.ConsolidatedRecord{
		{EmployeeID: "E9", StaffPageURL: "https://www.uu.nl/staff/Nine", PageID: "Nine"},
	}, records)
}

func TestReconcile_FailedBatchAborts(t *testing.T) {
	lookup := &fakeLookup{pages: map[string][]model.DirectoryPage{
		"E0": {{SolisID: "E0", URLEN: "https://www.uu.nl/staff/Zero"}},
	}, failOn: 2}
	r := &Reconciler{Lookup: lookup, BatchSize: 1}

	records, err := r.Reconcile(context.Background(), identities(3))
	assert.Error(t, err)
	assert.Zero(t, records)
	var ue *apperrors.UpstreamError
	assert.True(t, errors.As(err, &ue))
	assert.Contains(t, err.Error(), "reconcile batch 2/3")
}

func TestReconcile_Empty(t *testing.T) {
	lookup := &fakeLookup{}
	records, err := (&Reconciler{Lookup: lookup}).Reconcile(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(records))
	assert.Equal(t, 0, len(lookup.calls))
}

func TestDedupe(t *testing.T) {
	a := model.ConsolidatedRecord{UUID: "u1", EmployeeID: "E1", PageID: "p1"}
	b := model.ConsolidatedRecord{UUID: "u1", EmployeeID: "E1", PageID: "p2"}
	got := Dedupe([]model.ConsolidatedRecord{{}, a, b, a, {}, b})
	assert.Equal(t, []model.ConsolidatedRecord{a, b}, got)
}

func TestPageID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.uu.nl/staff/AJansen", "AJansen"},
		{"https://www.uu.nl/staff/AJansen/", "AJansen"},
		{"https://www.uu.nl/staff/AJansen?l=EN", "AJansen"},
		{"https://www.uu.nl/medewerkers/BPietersen/Profiel#top", "Profiel"},
		{"https://www.uu.nl", ""},
		{"staff/CDeVries", "CDeVries"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, PageID(tt.url))
		})
	}
}

func TestReconcile_AgainstDirectoryClient(t *testing.T) {
	fake := testutl.NewFakeDirectory()
	fake.Pages["E1"] = []model.DirectoryPage{{SolisID: "e1", URLEN: "https://www.uu.nl/staff/AJansen", PhotoConsent: model.ConsentGranted}}
	ts := fake.Start()
	defer ts.Close()
	client, err := directory.NewAPIClient(directory.ClientConfig{BaseURL: ts.URL, Transport: ts.Client().Transport})
	assert.NoError(t, err)

	r := &Reconciler{Lookup: client}
	records, err := r.Reconcile(context.Background(), []model.DirectoryIdentity{{EmployeeID: "E1", UUID: "u1"}, {EmployeeID: "E2", UUID: "u2"}})
	assert.NoError(t, err)
	assert.Equal(t, []model.ConsolidatedRecord{
		{UUID: "u1", EmployeeID: "E1", StaffPageURL: "https://www.uu.nl/staff/AJansen", PhotoConsent: model.ConsentGranted, PageID: "AJansen"},
	}, records)
	assert.Equal(t, [][]string{{"E1", "E2"}}, fake.Lookups())
}
