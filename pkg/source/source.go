// Package source defines the capability interface every upstream catalog
// implements. The harvest loop and pagination are written against Source
// only; concrete adapters live in sub-packages.
package source

import (
	"context"
	"errors"

	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

// UnknownTotal marks a page whose upstream did not report a result count.
const UnknownTotal = -1

// ErrUnsupported is returned by adapters for operations their upstream lacks.
var ErrUnsupported = errors.New("operation not supported by source")

// Page is one page of a paginated partition query.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Records holds the records on this page, in upstream order.
	Records []record.Record

	// Total is the upstream's reported size of the whole partition, or UnknownTotal.
	Total int

	// TotalPages is how many pages the partition spans at the adapter's page size.
	// Adapters that cannot tell report 1.
	TotalPages int
}

// Source is one upstream catalog.
type Source interface {
	// Name identifies the upstream ("arxiv", "pubmed").
	Name() string

	// FetchPage returns one page of the partition's result set.
	FetchPage(ctx context.Context, p partition.Partition, page int) (*Page, error)

	// FetchByIDs returns the records for an explicit id set. Ids the upstream
	// does not know are silently absent from the result. On error, records
	// obtained before the failure are returned alongside it.
	FetchByIDs(ctx context.Context, ids []string) ([]record.Record, error)
}

// TotalPages computes the page count for total results at pageSize.
// An unknown or zero total still yields one page.
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
