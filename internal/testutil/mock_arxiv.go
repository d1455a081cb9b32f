// Package testutil provides an in-process arXiv upstream and scripted sources
// for harvester tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

var (
	catPattern  = regexp.MustCompile(`cat:(\S+)`)
	datePattern = regexp.MustCompile(`submittedDate:\[(\d{8})\d{4} TO (\d{8})\d{4}\]`)
)

// MockArxiv is a configurable mock of the arXiv query API and listing pages.
type MockArxiv struct {
	server *httptest.Server
	mu     sync.Mutex

	catalog       map[string][]Paper
	reportedTotal map[string]int
	serveLimit    map[string]int
	failNext      int
	emptyNext     int

	// Tracking
	RequestCount  int
	QueryCount    int
	IDListCount   int
	ListingCount  int
	LastUserAgent string
}

// NewMockArxiv creates a new mock upstream.
func NewMockArxiv() *MockArxiv {
	mock := &MockArxiv{
		catalog:       make(map[string][]Paper),
		reportedTotal: make(map[string]int),
		serveLimit:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", mock.handleQuery)
	mux.HandleFunc("/list/", mock.handleListing)

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastUserAgent = r.Header.Get("User-Agent")
		mock.mu.Unlock()

		mux.ServeHTTP(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockArxiv) URL() string {
	return m.server.URL
}

// APIURL returns the query endpoint URL.
func (m *MockArxiv) APIURL() string {
	return m.server.URL + "/api/query"
}

// ListURL returns the listing base URL.
func (m *MockArxiv) ListURL() string {
	return m.server.URL + "/list"
}

// Close shuts down the mock server.
func (m *MockArxiv) Close() {
	m.server.Close()
}

// AddPapers adds papers to a category.
func (m *MockArxiv) AddPapers(category string, papers ...Paper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[category] = append(m.catalog[category], papers...)
}

// SetReportedTotal makes queries for category report total regardless of the catalog size.
func (m *MockArxiv) SetReportedTotal(category string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportedTotal[category] = total
}

// SetServeLimit makes queries for category only ever return the first n matching papers.
func (m *MockArxiv) SetServeLimit(category string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serveLimit[category] = n
}

// FailNext makes the next n API requests answer 500.
func (m *MockArxiv) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// EmptyNext makes the next n query requests return no entries but the real total.
func (m *MockArxiv) EmptyNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyNext = n
}

// Reset clears tracking counters.
func (m *MockArxiv) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.QueryCount = 0
	m.IDListCount = 0
	m.ListingCount = 0
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockArxiv) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetIDListCount returns the number of id_list requests.
func (m *MockArxiv) GetIDListCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.IDListCount
}

func (m *MockArxiv) handleQuery(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	pageSize, err := strconv.Atoi(q.Get("max_results"))
	if err != nil || pageSize <= 0 {
		pageSize = 10
	}

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")

	if idList := q.Get("id_list"); idList != "" {
		m.IDListCount++
		var out []Paper
		for _, raw := range strings.Split(idList, ",") {
			if p, ok := m.lookup(record.NormalizeID(raw)); ok {
				out = append(out, p)
			}
		}
		w.Write([]byte(AtomFeed(len(out), 0, out)))
		return
	}

	m.QueryCount++
	search := q.Get("search_query")
	cm := catPattern.FindStringSubmatch(search)
	if cm == nil {
		w.Write([]byte(AtomError("malformed query: " + search)))
		return
	}
	category := cm[1]

	matching := m.matching(category, search)
	total := len(matching)
	if reported, ok := m.reportedTotal[category]; ok {
		total = reported
	}
	if limit, ok := m.serveLimit[category]; ok && limit < len(matching) {
		matching = matching[:limit]
	}

	if m.emptyNext > 0 {
		m.emptyNext--
		w.Write([]byte(AtomFeed(total, start, nil)))
		return
	}

	var page []Paper
	if start < len(matching) {
		end := start + pageSize
		if end > len(matching) {
			end = len(matching)
		}
		page = matching[start:end]
	}
	w.Write([]byte(AtomFeed(total, start, page)))
}

func (m *MockArxiv) handleListing(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListingCount++

	// /list/<cat>/pastweek
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "pastweek" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	byDate := make(map[string][]string)
	for _, p := range m.sorted(parts[1]) {
		d := p.Published.UTC().Format("2006-01-02")
		byDate[d] = append(byDate[d], p.ID)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(ListingHTML(byDate)))
}

// matching returns the category's papers inside the query's date window,
// newest first (sortBy=submittedDate, sortOrder=descending).
func (m *MockArxiv) matching(category, search string) []Paper {
	papers := m.sorted(category)

	dm := datePattern.FindStringSubmatch(search)
	if dm == nil {
		return papers
	}
	from, _ := time.Parse("20060102", dm[1])
	to, _ := time.Parse("20060102", dm[2])
	to = to.Add(24*time.Hour - time.Nanosecond)

	var out []Paper
	for _, p := range papers {
		if !p.Published.Before(from) && !p.Published.After(to) {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockArxiv) sorted(category string) []Paper {
	papers := append([]Paper(nil), m.catalog[category]...)
	sort.SliceStable(papers, func(i, j int) bool {
		return papers[i].Published.After(papers[j].Published)
	})
	return papers
}

func (m *MockArxiv) lookup(id string) (Paper, bool) {
	for _, papers := range m.catalog {
		for _, p := range papers {
			if p.ID == id {
				return p, true
			}
		}
	}
	return Paper{}, false
}
