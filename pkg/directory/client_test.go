package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/testutl"
)

func setupTestServerAndClient(t *testing.T) (*testutl.FakeDirectory, *httptest.Server, *APIClient) {
	t.Helper()
	fake := testutl.NewFakeDirectory()
	ts := fake.Start()
	t.Cleanup(ts.Close)
	client, err := NewAPIClient(ClientConfig{
		BaseURL:      ts.URL,
		UserAgent:    "Mozilla/5.0",
		MaxFaculties: 3,
		Transport:    ts.Client().Transport,
	})
	assert.NoError(t, err)
	return fake, ts, client
}

func TestAPIClient_HarvestEmployees(t *testing.T) {
	fake, _, client := setupTestServerAndClient(t)
	fake.Faculties[0] = []string{"AJansen", "", "BPietersen"}
	fake.Faculties[2] = []string{"CDeVries"}
	fake.Employees["AJansen"] = map[string]any{"Email": "a.jansen@uu.nl", "Bio": "Hydrology", "PhotoUrl": "https://www.uu.nl/a.jpg", "Skills": []string{"x"}}
	fake.Employees["BPietersen"] = map[string]any{"Email": nil, "Bio": []string{}}
	fake.Employees["CDeVries"] = map[string]any{"Email": "c@uu.nl"}

	got, err := client.HarvestEmployees(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, []model.EmployeeDetail{
		{PageID: "AJansen", Email: "a.jansen@uu.nl", Bio: "Hydrology", PhotoURL: "https://www.uu.nl/a.jpg"},
		{PageID: "BPietersen"},
		{PageID: "CDeVries", Email: "c@uu.nl"},
	}, got)

	limited, err := client.HarvestEmployees(context.Background(), 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(limited))
}

func TestAPIClient_HarvestEmployeesUpstreamError(t *testing.T) {
	fake, _, client := setupTestServerAndClient(t)
	fake.HarvestStatus = http.StatusServiceUnavailable

	_, err := client.HarvestEmployees(context.Background(), 0)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestAPIClient_LookupEmployees(t *testing.T) {
	fake, _, client := setupTestServerAndClient(t)
	fake.Pages["E1"] = []model.DirectoryPage{{SolisID: "e1", URLEN: "https://www.uu.nl/staff/AJansen", PhotoConsent: model.ConsentGranted}}

	pages, err := client.LookupEmployees(context.Background(), []string{"E1", "E2"})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(pages))
	assert.Equal(t, "e1", pages[0].SolisID)
	assert.Equal(t, model.ConsentGranted, pages[0].PhotoConsent)
	assert.Equal(t, [][]string{{"E1", "E2"}}, fake.Lookups())

	none, err := client.LookupEmployees(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(none))
	assert.Equal(t, 1, len(fake.Lookups()))
}

func TestAPIClient_LookupEmployeesUpstreamError(t *testing.T) {
	fake, _, client := setupTestServerAndClient(t)
	fake.LookupStatus = http.StatusInternalServerError

	_, err := client.LookupEmployees(context.Background(), []string{"E1"})
	var ue *apperrors.UpstreamError
	assert.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.Equal(t, "directory lookup", ue.Op)
}

func TestAPIClient_FetchPhoto(t *testing.T) {
	fake, ts, client := setupTestServerAndClient(t)
	fake.Photos["a.jpg"] = []byte{0xff, 0xd8, 0xff}

	data, err := client.FetchPhoto(context.Background(), ts.URL+"/photos/a.jpg")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)

	_, err = client.FetchPhoto(context.Background(), "/photos/missing.jpg")
	assert.Error(t, err)

	assert.Equal(t, []string{"Mozilla/5.0", "Mozilla/5.0"}, fake.PhotoUserAgents())
}

func TestNewAPIClientRejectsRelativeURL(t *testing.T) {
	_, err := NewAPIClient(ClientConfig{BaseURL: "www.uu.nl"})
	assert.Error(t, err)
}
