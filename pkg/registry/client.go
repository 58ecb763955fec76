// Package registry is the HTTP client for the research-information registry:
// the legacy active-persons listing, the person batch search and the person
// write-back.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/document"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/pkg/transport"
)

// Client defines the registry operations staffsync uses.
type Client interface {
	// ActivePersons pages through the legacy listing and returns every active
	// person that carries an Employee ID.
	ActivePersons(ctx context.Context) ([]model.DirectoryIdentity, error)
	// SearchPersons fetches the documents of the given uuids. At most size
	// documents are returned per call.
	SearchPersons(ctx context.Context, uuids []string, size, offset int) (*SearchResult, error)
	// PutPerson replaces the stored document of doc.UUID with doc.
	PutPerson(ctx context.Context, doc *document.Person) error
}

// SearchResult is one page of a person search. Count is the total number of
// matches the registry reports, which may exceed len(Items).
type SearchResult struct {
	Count int                `json:"count"`
	Items []*document.Person `json:"items"`
}

// APIClient implements Client for the registry's REST APIs.
type APIClient struct {
	BaseURL        *url.URL
	SearchURL      *url.URL
	LegacyURL      *url.URL
	LegacyAPIKey   string
	LegacyPageSize int
	// HTTPClient carries registry credentials; LegacyClient does not.
	HTTPClient   *http.Client
	LegacyClient *http.Client
	Logger       *slog.Logger
}

// OAuthConfig enables client-credentials bearer tokens instead of an api-key header.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// ClientConfig holds configuration for creating a new APIClient.
type ClientConfig struct {
	BaseURL           string
	SearchURL         string
	LegacyPersonsURL  string
	APIKey            string
	LegacyAPIKey      string
	LegacyPageSize    int
	RequestsPerSecond float64
	Timeout           time.Duration
	OAuth             *OAuthConfig
	Transport         http.RoundTripper
	Logger            *slog.Logger
}

// NewAPIClient creates a new registry client.
func NewAPIClient(config ClientConfig) (*APIClient, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	baseURL, err := parseAbsolute("base", config.BaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	searchURL := baseURL.ResolveReference(&url.URL{Path: "persons/search"})
	if config.SearchURL != "" {
		if searchURL, err = parseAbsolute("search", config.SearchURL); err != nil {
			return nil, err
		}
	}
	var legacyURL *url.URL
	if config.LegacyPersonsURL != "" {
		if legacyURL, err = parseAbsolute("legacy persons", config.LegacyPersonsURL); err != nil {
			return nil, err
		}
	}
	if config.LegacyPageSize <= 0 {
		config.LegacyPageSize = 20
	}
	logger := config.Logger.With("component", "registry")

	base := transport.New(
		transport.WithBase(config.Transport),
		transport.WithHeader("Accept", "application/json"),
		transport.WithHeader("Content-Type", "application/json"),
		transport.WithRateLimit(config.RequestsPerSecond, 1),
		transport.WithLogger(logger),
	)
	legacy := base.Client(config.Timeout)

	var httpClient *http.Client
	if config.OAuth != nil && config.OAuth.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     config.OAuth.ClientID,
			ClientSecret: config.OAuth.ClientSecret,
			TokenURL:     config.OAuth.TokenURL,
			Scopes:       config.OAuth.Scopes,
		}
		// Token requests go through the same throttled transport.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, legacy)
		httpClient = cc.Client(tokenCtx)
		httpClient.Timeout = config.Timeout
	} else {
		if config.APIKey == "" {
			logger.Warn("Registry API key is empty. Search and write calls will likely be rejected.")
		}
		authed := transport.New(
			transport.WithBase(base),
			transport.WithHeader("api-key", config.APIKey),
		)
		httpClient = authed.Client(config.Timeout)
	}

	return &APIClient{
		BaseURL:        baseURL,
		SearchURL:      searchURL,
		LegacyURL:      legacyURL,
		LegacyAPIKey:   config.LegacyAPIKey,
		LegacyPageSize: config.LegacyPageSize,
		HTTPClient:     httpClient,
		LegacyClient:   legacy,
		Logger:         logger,
	}, nil
}

func parseAbsolute(name, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid registry %s URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid registry %s URL: %q is not absolute", name, raw)
	}
	return u, nil
}

type legacyPage struct {
	Count int            `json:"count"`
	Items []legacyPerson `json:"items"`
}

type legacyPerson struct {
	UUID string     `json:"uuid"`
	IDs  []legacyID `json:"ids"`
}

type legacyID struct {
	Value legacyValue `json:"value"`
	Type  struct {
		Term struct {
			Text []struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"term"`
	} `json:"type"`
}

// legacyValue is an id value, either {"value": "..."} or a bare string.
type legacyValue string

func (v *legacyValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = legacyValue(s)
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("id value: %w", err)
	}
	*v = legacyValue(obj.Value)
	return nil
}

const employeeIDType = "Employee ID"

func (p legacyPerson) employeeID() string {
	for _, id := range p.IDs {
		for _, text := range id.Type.Term.Text {
			if text.Value == employeeIDType {
				return string(id.Value)
			}
		}
	}
	return ""
}

// ActivePersons implements Client.
func (c *APIClient) ActivePersons(ctx context.Context) ([]model.DirectoryIdentity, error) {
	if c.LegacyURL == nil {
		return nil, fmt.Errorf("legacy persons URL not configured")
	}
	var identities []model.DirectoryIdentity
	seen := 0
	for page := 1; ; page++ {
		u := *c.LegacyURL
		q := u.Query()
		q.Set("pageSize", strconv.Itoa(c.LegacyPageSize))
		q.Set("page", strconv.Itoa(page))
		q.Set("apiKey", c.LegacyAPIKey)
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		var lp legacyPage
		if err := c.doJSON(c.LegacyClient, req, "active persons", &lp); err != nil {
			return nil, err
		}
		if len(lp.Items) == 0 {
			break
		}
		for _, person := range lp.Items {
			seen++
			employeeID := strings.TrimSpace(person.employeeID())
			if person.UUID == "" || employeeID == "" {
				continue
			}
			if _, err := uuid.Parse(person.UUID); err != nil {
				c.Logger.Warn("Skipping person with malformed uuid", "uuid", person.UUID, "error", err)
				continue
			}
			identities = append(identities, model.DirectoryIdentity{
				EmployeeID: model.NormalizeEmployeeID(employeeID),
				UUID:       person.UUID,
			})
		}
		c.Logger.Debug("Fetched active persons page", "page", page, "items", len(lp.Items))
		if lp.Count > 0 && seen >= lp.Count {
			break
		}
	}
	c.Logger.Info("Fetched active persons", "seen", seen, "identities", len(identities))
	return identities, nil
}

type searchRequest struct {
	UUIDs  []string `json:"uuids"`
	Size   int      `json:"size"`
	Offset int      `json:"offset"`
}

// SearchPersons implements Client.
func (c *APIClient) SearchPersons(ctx context.Context, uuids []string, size, offset int) (*SearchResult, error) {
	body, err := json.Marshal(searchRequest{UUIDs: uuids, Size: size, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SearchURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var result SearchResult
	if err := c.doJSON(c.HTTPClient, req, "search persons", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PutPerson implements Client.
func (c *APIClient) PutPerson(ctx context.Context, doc *document.Person) error {
	if doc == nil || doc.UUID == "" {
		return fmt.Errorf("person document without uuid")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal person %s: %w", doc.UUID, err)
	}
	target := c.BaseURL.ResolveReference(&url.URL{Path: "persons/" + url.PathEscape(doc.UUID)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.FromResponse("write person", resp)
	}
	return nil
}

func (c *APIClient) doJSON(client *http.Client, req *http.Request, op string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = apperrors.RedactURL(uerr.URL)
		}
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.FromResponse(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

var _ Client = (*APIClient)(nil)
