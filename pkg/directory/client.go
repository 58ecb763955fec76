// Package directory is the HTTP client for the public staff directory.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mscno/staffsync/pkg/apperrors"
	"github.com/mscno/staffsync/pkg/model"
	"github.com/mscno/staffsync/pkg/transport"
)

const (
	facultyPath  = "/Public/GetEmployeesOrganogram"
	employeePath = "/Public/getEmployeeData"
	lookupPath   = "/RestApi/getmedewerkers"

	maxPhotoBytes = 10 << 20
)

// Client defines the operations staffsync needs from the public staff directory.
type Client interface {
	// HarvestEmployees walks every faculty and returns the harvested fields of
	// each employee page, stopping after maxRecords pages (0 means all).
	HarvestEmployees(ctx context.Context, maxRecords int) ([]model.EmployeeDetail, error)
	// LookupEmployees returns the directory pages matching the given employee
	// ids. An id may match zero or several pages.
	LookupEmployees(ctx context.Context, ids []string) ([]model.DirectoryPage, error)
	// FetchPhoto downloads the image at rawURL.
	FetchPhoto(ctx context.Context, rawURL string) ([]byte, error)
}

// APIClient implements Client over the directory's JSON endpoints.
type APIClient struct {
	BaseURL      *url.URL
	HTTPClient   *http.Client
	UserAgent    string
	MaxFaculties int
	Logger       *slog.Logger
}

// ClientConfig holds configuration for creating a new APIClient.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	MaxFaculties      int
	RequestsPerSecond float64
	Timeout           time.Duration
	// Transport replaces http.DefaultTransport under the throttling layer.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewAPIClient creates a new directory client.
func NewAPIClient(config ClientConfig) (*APIClient, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid directory URL: %q is not absolute", config.BaseURL)
	}
	if config.MaxFaculties <= 0 {
		config.MaxFaculties = 25
	}
	tr := transport.New(
		transport.WithBase(config.Transport),
		transport.WithHeader("Accept", "application/json"),
		transport.WithRateLimit(config.RequestsPerSecond, 1),
		transport.WithLogger(config.Logger),
	)
	return &APIClient{
		BaseURL:      baseURL,
		HTTPClient:   tr.Client(config.Timeout),
		UserAgent:    config.UserAgent,
		MaxFaculties: config.MaxFaculties,
		Logger:       config.Logger.With("component", "directory"),
	}, nil
}

func (c *APIClient) endpoint(path string, query url.Values) string {
	return c.BaseURL.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()}).String()
}

// getJSON issues a GET for a required call and decodes the JSON body into out.
func (c *APIClient) getJSON(ctx context.Context, op, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
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

type facultyPage struct {
	Employees []struct {
		URL *string `json:"Url"`
	} `json:"Employees"`
}

type employeePage struct {
	Employee map[string]json.RawMessage `json:"Employee"`
}

// HarvestEmployees implements Client.
func (c *APIClient) HarvestEmployees(ctx context.Context, maxRecords int) ([]model.EmployeeDetail, error) {
	var details []model.EmployeeDetail
	count := 0
	limitReached := func() bool { return maxRecords > 0 && count >= maxRecords }

	for faculty := 0; faculty < c.MaxFaculties && !limitReached(); faculty++ {
		var fp facultyPage
		target := c.endpoint(facultyPath, url.Values{
			"f":          {strconv.Itoa(faculty)},
			"l":          {"EN"},
			"fullresult": {"true"},
		})
		if err := c.getJSON(ctx, "harvest faculty", target, &fp); err != nil {
			return nil, err
		}
		if len(fp.Employees) == 0 {
			c.Logger.Debug("Empty faculty", "faculty", faculty)
			continue
		}
		c.Logger.Info("Harvesting faculty", "faculty", faculty, "employees", len(fp.Employees))

		for _, emp := range fp.Employees {
			if limitReached() {
				break
			}
			if emp.URL == nil || *emp.URL == "" {
				continue
			}
			pageID := *emp.URL
			var ep employeePage
			target := c.endpoint(employeePath, url.Values{"page": {pageID}, "l": {"EN"}})
			if err := c.getJSON(ctx, "harvest employee", target, &ep); err != nil {
				return nil, err
			}
			if ep.Employee != nil {
				details = append(details, model.EmployeeDetail{
					PageID:   pageID,
					Email:    stringMember(ep.Employee, "Email"),
					Bio:      stringMember(ep.Employee, "Bio"),
					PhotoURL: stringMember(ep.Employee, "PhotoUrl"),
				})
			}
			count++
			if count%50 == 0 {
				c.Logger.Info("Harvest progress", "pages", count)
			}
		}
	}
	c.Logger.Info("Harvest done", "pages", count, "employees", len(details))
	return details, nil
}

// stringMember returns member key of m when it is a JSON string. Nulls,
// empty lists and other shapes yield "".
func stringMember(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// LookupEmployees implements Client.
func (c *APIClient) LookupEmployees(ctx context.Context, ids []string) ([]model.DirectoryPage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	target := c.endpoint(lookupPath, url.Values{"selectie": {"solisid:" + strings.Join(ids, ",")}})
	var pages []model.DirectoryPage
	if err := c.getJSON(ctx, "directory lookup", target, &pages); err != nil {
		return nil, err
	}
	c.Logger.Debug("Lookup batch", "ids", len(ids), "pages", len(pages))
	return pages, nil
}

// FetchPhoto implements Client.
func (c *APIClient) FetchPhoto(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := c.BaseURL.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid photo URL %q: %w", rawURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.FromResponse("fetch photo", resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo %s exceeds %d bytes", rawURL, maxPhotoBytes)
	}
	return data, nil
}

var _ Client = (*APIClient)(nil)
