package testutl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-michi/michi"

	"github.com/mscno/staffsync/pkg/model"
)

// FakeDirectory is an in-memory staff directory served over HTTP.
type FakeDirectory struct {
	mu sync.Mutex
	// Faculties maps a faculty number to the page ids listed in it.
	Faculties map[int][]string
	// Employees maps a page id to the Employee object of its detail page.
	Employees map[string]map[string]any
	// Pages maps an upper-case employee id to the pages the lookup returns for it.
	Pages map[string][]model.DirectoryPage
	// Photos maps a photo name, served at /photos/{name}, to its bytes.
	Photos map[string][]byte
	// LookupStatus, when non-zero, is returned by every lookup.
	LookupStatus int
	// HarvestStatus, when non-zero, is returned by every faculty request.
	HarvestStatus int

	lookups    [][]string
	userAgents []string
}

func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		Faculties: map[int][]string{},
		Employees: map[string]map[string]any{},
		Pages:     map[string][]model.DirectoryPage{},
		Photos:    map[string][]byte{},
	}
}

// Lookups returns the id lists received by the lookup endpoint, in order.
func (d *FakeDirectory) Lookups() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.lookups...)
}

// PhotoUserAgents returns the User-Agent of every photo request.
func (d *FakeDirectory) PhotoUserAgents() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.userAgents...)
}

// Handler routes the directory endpoints.
func (d *FakeDirectory) Handler() http.Handler {
	mux := michi.NewRouter()
	mux.Handle("GET /Public/GetEmployeesOrganogram", http.HandlerFunc(d.faculty))
	mux.Handle("GET /Public/getEmployeeData", http.HandlerFunc(d.employee))
	mux.Handle("GET /RestApi/getmedewerkers", http.HandlerFunc(d.lookup))
	mux.Handle("GET /photos/{name}", http.HandlerFunc(d.photo))
	return mux
}

// Start serves d on a new httptest server.
func (d *FakeDirectory) Start() *httptest.Server {
	return httptest.NewServer(d.Handler())
}

func (d *FakeDirectory) faculty(w http.ResponseWriter, r *http.Request) {
	if d.HarvestStatus != 0 {
		http.Error(w, "faculty unavailable", d.HarvestStatus)
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("f"))
	if err != nil {
		http.Error(w, "bad faculty", http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	ids, ok := d.Faculties[n]
	d.mu.Unlock()
	if !ok {
		writeJSON(w, map[string]any{})
		return
	}
	employees := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			employees = append(employees, map[string]any{"Url": nil})
			continue
		}
		employees = append(employees, map[string]any{"Url": id, "Name": id})
	}
	writeJSON(w, map[string]any{"Employees": employees})
}

func (d *FakeDirectory) employee(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	emp, ok := d.Employees[r.URL.Query().Get("page")]
	d.mu.Unlock()
	if !ok {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, map[string]any{"Employee": emp})
}

func (d *FakeDirectory) lookup(w http.ResponseWriter, r *http.Request) {
	if d.LookupStatus != 0 {
		http.Error(w, "lookup unavailable", d.LookupStatus)
		return
	}
	sel := r.URL.Query().Get("selectie")
	raw, ok := strings.CutPrefix(sel, "solisid:")
	if !ok {
		http.Error(w, "bad selectie", http.StatusBadRequest)
		return
	}
	ids := strings.Split(raw, ",")

	d.mu.Lock()
	d.lookups = append(d.lookups, ids)
	pages := []model.DirectoryPage{}
	for _, id := range ids {
		pages = append(pages, d.Pages[strings.ToUpper(id)]...)
	}
	d.mu.Unlock()
	writeJSON(w, pages)
}

func (d *FakeDirectory) photo(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.userAgents = append(d.userAgents, r.UserAgent())
	data, ok := d.Photos[r.PathValue("name")]
	d.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
