package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/document"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/testutl"
)

const (
	uuidA = "6f1e7c1a-3b4d-4f5e-8a9b-0c1d2e3f4a5b"
	uuidB = "0a9b8c7d-6e5f-4a3b-9c2d-1e0f9a8b7c6d"
)

func setupTestServerAndClient(t *testing.T, fake *testutl.FakeRegistry, mutate func(*ClientConfig)) (*httptest.Server, *APIClient) {
	t.Helper()
	ts := fake.Start()
	t.Cleanup(ts.Close)
	cfg := ClientConfig{
		BaseURL:          testutl.BaseURL(ts),
		LegacyPersonsURL: testutl.LegacyURL(ts),
		APIKey:           "crud-key",
		LegacyAPIKey:     "old-key",
		LegacyPageSize:   2,
		Transport:        ts.Client().Transport,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewAPIClient(cfg)
	require.NoError(t, err)
	return ts, client
}

func TestAPIClient_ActivePersons(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.LegacyAPIKey = "old-key"
	fake.Active = []testutl.ActivePerson{
		{UUID: uuidA, EmployeeID: "e100"},
		{UUID: "not-a-uuid", EmployeeID: "E200"},
		{UUID: uuidB},
		{UUID: uuidB, EmployeeID: "E300"},
		{UUID: "", EmployeeID: "E400"},
	}
	_, client := setupTestServerAndClient(t, fake, nil)

	got, err := client.ActivePersons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.DirectoryIdentity{
		{EmployeeID: "E100", UUID: uuidA},
		{EmployeeID: "E300", UUID: uuidB},
	}, got)
}

func TestAPIClient_ActivePersonsBadKey(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.LegacyAPIKey = "old-key"
	_, client := setupTestServerAndClient(t, fake, func(c *ClientConfig) { c.LegacyAPIKey = "wrong" })

	_, err := client.ActivePersons(context.Background())
	var ue *apperrors.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	assert.NotContains(t, ue.Error(), "wrong")
}

func TestAPIClient_SearchPersons(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.APIKey = "crud-key"
	fake.Documents[uuidA] = json.RawMessage(`{"uuid":"` + uuidA + `","profileInformation":[],"pureId":1}`)
	_, client := setupTestServerAndClient(t, fake, nil)

	res, err := client.SearchPersons(context.Background(), []string{uuidA, uuidB}, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.Len(t, res.Items, 1)
	assert.Equal(t, uuidA, res.Items[0].UUID)
	assert.Contains(t, res.Items[0].Extra, "pureId")

	searches := fake.Searches()
	require.Len(t, searches, 1)
	assert.Equal(t, testutl.SearchRequest{UUIDs: []string{uuidA, uuidB}, Size: 100, Offset: 0}, searches[0])
}

func TestAPIClient_SearchPersonsUpstreamError(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.SearchStatus = http.StatusBadGateway
	_, client := setupTestServerAndClient(t, fake, nil)

	_, err := client.SearchPersons(context.Background(), []string{uuidA}, 100, 0)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestAPIClient_PutPerson(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.APIKey = "crud-key"
	fake.PutStatus[uuidB] = http.StatusConflict
	_, client := setupTestServerAndClient(t, fake, func(c *ClientConfig) { c.BaseURL = c.BaseURL[:len(c.BaseURL)-1] })

	doc := &document.Person{UUID: uuidA, ProfileInformation: []document.ProfileInformation{}}
	require.NoError(t, client.PutPerson(context.Background(), doc))
	puts := fake.Puts(uuidA)
	require.Len(t, puts, 1)
	assert.JSONEq(t, `{"uuid":"`+uuidA+`","profileInformation":[]}`, string(puts[0]))

	err := client.PutPerson(context.Background(), &document.Person{UUID: uuidB})
	var ue *apperrors.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusConflict, ue.StatusCode)

	assert.Error(t, client.PutPerson(context.Background(), &document.Person{}))
}

func TestAPIClient_WrongAPIKeyRejected(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.APIKey = "crud-key"
	_, client := setupTestServerAndClient(t, fake, func(c *ClientConfig) { c.APIKey = "other" })

	_, err := client.SearchPersons(context.Background(), []string{uuidA}, 100, 0)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestAPIClient_OAuthClientCredentials(t *testing.T) {
	fake := testutl.NewFakeRegistry()
	fake.BearerToken = "tok-123"
	fake.Documents[uuidA] = json.RawMessage(`{"uuid":"` + uuidA + `"}`)
	_, client := setupTestServerAndClient(t, fake, func(c *ClientConfig) {
		c.APIKey = ""
		c.OAuth = &OAuthConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			TokenURL:     strings.TrimSuffix(c.BaseURL, "/ws/api/") + "/oauth/token",
		}
	})

	res, err := client.SearchPersons(context.Background(), []string{uuidA}, 100, 0)
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)

	fake.BearerToken = "rotated"
	_, err = client.SearchPersons(context.Background(), []string{uuidA}, 100, 0)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestNewAPIClientValidatesURLs(t *testing.T) {
	_, err := NewAPIClient(ClientConfig{BaseURL: "/relative/"})
	assert.Error(t, err)
	_, err = NewAPIClient(ClientConfig{BaseURL: "https://registry.example/ws/api", SearchURL: "nope"})
	assert.Error(t, err)

	c, err := NewAPIClient(ClientConfig{BaseURL: "https://registry.example/ws/api"})
	require.NoError(t, err)
	assert.Equal(t, "https://registry.example/ws/api/persons/search", c.SearchURL.String())
	_, err = c.ActivePersons(context.Background())
	assert.Error(t, err)
}
