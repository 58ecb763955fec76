package testutl

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-michi/michi"
)

// ActivePerson is one entry of the legacy active-persons listing.
type ActivePerson struct {
	UUID       string
	EmployeeID string
}

// SearchRequest is a decoded person search body.
type SearchRequest struct {
	UUIDs  []string `json:"uuids"`
	Size   int      `json:"size"`
	Offset int      `json:"offset"`
}

// FakeRegistry is an in-memory registry served over HTTP.
//
// Paths, relative to the server URL:
//
//	GET  /ws/api/524/persons/active   legacy listing
//	POST /ws/api/persons/search       batch search
//	PUT  /ws/api/persons/{uuid}       write-back
//	POST /oauth/token                 client-credentials tokens
type FakeRegistry struct {
	mu sync.Mutex
	// Documents maps a uuid to its stored JSON document.
	Documents map[string]json.RawMessage
	Active    []ActivePerson
	// APIKey is required on search and write when set.
	APIKey string
	// LegacyAPIKey is required on the legacy listing when set.
	LegacyAPIKey string
	// BearerToken is issued by /oauth/token and, when set, required instead of APIKey.
	BearerToken string
	// SearchStatus, when non-zero, fails every search.
	SearchStatus int
	// PutStatus maps a uuid to a forced write-back status.
	PutStatus map[string]int

	searches []SearchRequest
	puts     map[string][]json.RawMessage
}

func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		Documents: map[string]json.RawMessage{},
		PutStatus: map[string]int{},
		puts:      map[string][]json.RawMessage{},
	}
}

// Searches returns every search request received, in order.
func (f *FakeRegistry) Searches() []SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SearchRequest(nil), f.searches...)
}

// Puts returns the bodies written for uuid, in order.
func (f *FakeRegistry) Puts(uuid string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.puts[uuid]...)
}

// PutCount returns the number of write-backs across all persons.
func (f *FakeRegistry) PutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, bodies := range f.puts {
		n += len(bodies)
	}
	return n
}

func (f *FakeRegistry) Handler() http.Handler {
	mux := michi.NewRouter()
	mux.Handle("GET /ws/api/524/persons/active", http.HandlerFunc(f.active))
	mux.Handle("POST /ws/api/persons/search", http.HandlerFunc(f.search))
	mux.Handle("PUT /ws/api/persons/{uuid}", http.HandlerFunc(f.put))
	mux.Handle("POST /oauth/token", http.HandlerFunc(f.token))
	return mux
}

func (f *FakeRegistry) Start() *httptest.Server {
	return httptest.NewServer(f.Handler())
}

// Endpoint URLs of a server started from a FakeRegistry.
func BaseURL(ts *httptest.Server) string   { return ts.URL + "/ws/api/" }
func SearchURL(ts *httptest.Server) string { return ts.URL + "/ws/api/persons/search" }
func LegacyURL(ts *httptest.Server) string { return ts.URL + "/ws/api/524/persons/active" }
func TokenURL(ts *httptest.Server) string  { return ts.URL + "/oauth/token" }

func (f *FakeRegistry) authorized(r *http.Request) bool {
	if f.BearerToken != "" {
		return r.Header.Get("Authorization") == "Bearer "+f.BearerToken
	}
	return f.APIKey == "" || r.Header.Get("api-key") == f.APIKey
}

func (f *FakeRegistry) active(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if f.LegacyAPIKey != "" && q.Get("apiKey") != f.LegacyAPIKey {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	size, err1 := strconv.Atoi(q.Get("pageSize"))
	page, err2 := strconv.Atoi(q.Get("page"))
	if err1 != nil || err2 != nil || size <= 0 || page <= 0 {
		http.Error(w, "bad paging", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []map[string]any{}
	for i := (page - 1) * size; i < page*size && i < len(f.Active); i++ {
		p := f.Active[i]
		item := map[string]any{"uuid": p.UUID, "name": map[string]any{"text": []any{}}}
		ids := []map[string]any{{
			"value": map[string]any{"value": "orcid-" + strconv.Itoa(i)},
			"type":  map[string]any{"term": map[string]any{"text": []map[string]string{{"locale": "en_GB", "value": "ORCID"}}}},
		}}
		if p.EmployeeID != "" {
			ids = append(ids, map[string]any{
				"value": map[string]any{"value": p.EmployeeID},
				"type":  map[string]any{"term": map[string]any{"text": []map[string]string{{"locale": "en_GB", "value": "Employee ID"}}}},
			})
		}
		item["ids"] = ids
		items = append(items, item)
	}
	writeJSON(w, map[string]any{"count": len(f.Active), "items": items})
}

func (f *FakeRegistry) search(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.searches = append(f.searches, req)
	f.mu.Unlock()
	if f.SearchStatus != 0 {
		http.Error(w, "search unavailable", f.SearchStatus)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	matched := []json.RawMessage{}
	for _, u := range req.UUIDs {
		if doc, ok := f.Documents[u]; ok {
			matched = append(matched, doc)
		}
	}
	items := matched
	if req.Offset < len(items) {
		items = items[req.Offset:]
	} else {
		items = []json.RawMessage{}
	}
	if req.Size > 0 && len(items) > req.Size {
		items = items[:req.Size]
	}
	writeJSON(w, map[string]any{"count": len(matched), "pageInformation": map[string]int{"offset": req.Offset, "size": req.Size}, "items": items})
}

func (f *FakeRegistry) put(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	uuid := r.PathValue("uuid")
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if status := f.PutStatus[uuid]; status != 0 {
		http.Error(w, "write rejected", status)
		return
	}
	f.puts[uuid] = append(f.puts[uuid], body)
	f.Documents[uuid] = body
	writeJSON(w, json.RawMessage(body))
}

func (f *FakeRegistry) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"access_token": f.BearerToken, "token_type": "bearer", "expires_in": 3600})
}
