package testutil

import (
	"context"
	"sync"

	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
)

// FakeAttempt is what a FakeSource serves during one harvest attempt.
type FakeAttempt struct {
	// Records visible to this attempt, split into pages of PageSize.
	Records []record.Record

	// Total reported on every page; source.UnknownTotal to omit.
	Total int

	// Err fails the attempt. With ErrOnPage > 0 only that page fails.
	Err       error
	ErrOnPage int
}

// FakeSource is a scripted in-memory source.Source. An attempt begins each
// time page 1 is requested; Script decides what that attempt sees.
type FakeSource struct {
	SourceName string
	PageSize   int
	Script     func(attempt int) FakeAttempt

	// ByID backs FetchByIDs. Unsupported makes FetchByIDs return source.ErrUnsupported.
	ByID        map[string]record.Record
	IDErr       error
	Unsupported bool

	mu           sync.Mutex
	attempts     int
	pageCalls    int
	idCalls      int
	requestedIDs [][]string
}

// NewFakeSource creates a fake that serves the same attempt forever.
func NewFakeSource(attempt FakeAttempt) *FakeSource {
	return &FakeSource{
		SourceName: "fake",
		PageSize:   100,
		Script:     func(int) FakeAttempt { return attempt },
	}
}

// Name implements source.Source.
func (f *FakeSource) Name() string {
	if f.SourceName == "" {
		return "fake"
	}
	return f.SourceName
}

// FetchPage implements source.Source.
func (f *FakeSource) FetchPage(ctx context.Context, p partition.Partition, page int) (*source.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.pageCalls++
	if page == 1 {
		f.attempts++
	}
	attempt := f.attempts
	f.mu.Unlock()

	a := f.Script(attempt)
	if a.Err != nil && (a.ErrOnPage == 0 || a.ErrOnPage == page) {
		return nil, a.Err
	}

	size := f.PageSize
	if size <= 0 {
		size = 100
	}

	var recs []record.Record
	start := (page - 1) * size
	if start < len(a.Records) {
		end := start + size
		if end > len(a.Records) {
			end = len(a.Records)
		}
		recs = a.Records[start:end]
	}

	pages := source.TotalPages(a.Total, size)
	if a.Total == source.UnknownTotal {
		pages = source.TotalPages(len(a.Records), size)
	}

	return &source.Page{
		Number:     page,
		Records:    recs,
		Total:      a.Total,
		TotalPages: pages,
	}, nil
}

// FetchByIDs implements source.Source.
func (f *FakeSource) FetchByIDs(ctx context.Context, ids []string) ([]record.Record, error) {
	f.mu.Lock()
	f.idCalls++
	f.requestedIDs = append(f.requestedIDs, append([]string(nil), ids...))
	f.mu.Unlock()

	if f.Unsupported {
		return nil, source.ErrUnsupported
	}
	if f.IDErr != nil {
		return nil, f.IDErr
	}

	var out []record.Record
	for _, id := range ids {
		if rec, ok := f.ByID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Attempts returns how many attempts (page-1 requests) were served.
func (f *FakeSource) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// Calls returns the total number of upstream calls of either kind.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls + f.idCalls
}

// RequestedIDs returns the id sets passed to FetchByIDs, in call order.
func (f *FakeSource) RequestedIDs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.requestedIDs))
	copy(out, f.requestedIDs)
	return out
}
