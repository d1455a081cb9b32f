// Package pagination fetches every page of a partition through a source.Source.
package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pages_fetched_total",
			Help: "Pages fetched by the batch fetcher",
		},
		[]string{"source"},
	)

	pageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_page_failures_total",
			Help: "Page fetches that failed inside a batch",
		},
		[]string{"source"},
	)
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests.
	// Upstream spacing is enforced by the client's limiter, so values above 1
	// only overlap response parsing with the next request's wait.
	MaxConcurrency int

	// Timeout per page fetch, including the rate limiter wait.
	Timeout time.Duration
}

// DefaultConfig returns a sequential configuration suitable for arXiv.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 1,
		Timeout:        5 * time.Minute,
	}
}

// Result is the outcome of one pass over a partition's pages.
type Result struct {
	// Records holds every record fetched, in page order.
	Records []record.Record

	// Total is the upstream's reported partition size from page 1, or source.UnknownTotal.
	Total int

	// TotalPages is the page count derived from page 1.
	TotalPages int

	// FetchedPages counts pages that were fetched successfully.
	FetchedPages int
}

type pageResult struct {
	number  int
	records []record.Record
	err     error
}

// BatchFetcher fetches all pages of a partition with a worker pool.
type BatchFetcher struct {
	src    source.Source
	config Config
	logger zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(src source.Source, config Config, logger zerolog.Logger) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	return &BatchFetcher{
		src:    src,
		config: config,
		logger: logger.With().Str("component", "pagination").Logger(),
	}
}

// FetchAll fetches page 1 to learn the page count, then the remaining pages in
// parallel. When some pages fail, the records of the pages that succeeded are
// returned together with the first error.
func (bf *BatchFetcher) FetchAll(ctx context.Context, p partition.Partition) (*Result, error) {
	start := time.Now()
	name := bf.src.Name()

	first, err := bf.fetch(ctx, p, 1)
	if err != nil {
		pageFailures.WithLabelValues(name).Inc()
		return &Result{Total: source.UnknownTotal}, fmt.Errorf("failed to fetch first page: %w", err)
	}
	pagesFetched.WithLabelValues(name).Inc()

	totalPages := first.TotalPages
	if totalPages < 1 {
		totalPages = 1
	}

	result := &Result{
		Total:        first.Total,
		TotalPages:   totalPages,
		FetchedPages: 1,
	}

	bf.logger.Debug().
		Str("partition", p.Key()).
		Int("total", first.Total).
		Int("total_pages", totalPages).
		Msg("Starting page fetch")

	if totalPages == 1 {
		result.Records = first.Records
		return result, nil
	}

	pages := map[int][]record.Record{1: first.Records}

	pageQueue := make(chan int, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	results := make(chan pageResult, totalPages-1)

	workers := bf.config.MaxConcurrency
	if workers > totalPages-1 {
		workers = totalPages - 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, p, pageQueue, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr *pageError
	for r := range results {
		if r.err != nil {
			pageFailures.WithLabelValues(name).Inc()
			bf.logger.Warn().
				Err(r.err).
				Str("partition", p.Key()).
				Int("page", r.number).
				Msg("Page fetch failed")
			if firstErr == nil || r.number < firstErr.page {
				firstErr = &pageError{page: r.number, err: r.err}
			}
			continue
		}
		pagesFetched.WithLabelValues(name).Inc()
		pages[r.number] = r.records
		result.FetchedPages++
	}

	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		result.Records = append(result.Records, pages[n]...)
	}

	bf.logger.Debug().
		Str("partition", p.Key()).
		Int("pages", result.FetchedPages).
		Int("total_pages", totalPages).
		Int("records", len(result.Records)).
		Dur("duration", time.Since(start)).
		Msg("Page fetch complete")

	if firstErr != nil {
		return result, fmt.Errorf("partial data (%d/%d pages): %w", result.FetchedPages, totalPages, firstErr)
	}
	return result, nil
}

// worker processes pages from the queue until it is drained or ctx ends.
// Once ctx is done the remaining pages are reported as failed.
func (bf *BatchFetcher) worker(ctx context.Context, p partition.Partition, pageQueue <-chan int, results chan<- pageResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for pageNum := range pageQueue {
		if err := ctx.Err(); err != nil {
			results <- pageResult{number: pageNum, err: err}
			continue
		}

		page, err := bf.fetch(ctx, p, pageNum)
		if err != nil {
			results <- pageResult{number: pageNum, err: err}
			continue
		}
		results <- pageResult{number: pageNum, records: page.Records}
	}
}

func (bf *BatchFetcher) fetch(ctx context.Context, p partition.Partition, page int) (*source.Page, error) {
	pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()
	return bf.src.FetchPage(pageCtx, p, page)
}

// pageError ties a failure to the page it happened on.
type pageError struct {
	page int
	err  error
}

func (e *pageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.page, e.err)
}

func (e *pageError) Unwrap() error {
	return e.err
}
