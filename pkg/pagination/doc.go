// Package pagination provides batch fetching of every page of a partition.
//
// Upstreams report a total result count with the first page. The batch fetcher
// derives the page count from it and hands the remaining pages to a small
// worker pool. Request spacing is the client's limiter's job, not the pool's.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(src, pagination.DefaultConfig(), logger)
//	res, err := fetcher.FetchAll(ctx, partition.ForDate("arxiv", "cs.AI", day))
//	// res.Records is usable even when err != nil
//
// The batch fetcher:
//   - Fetches page 1 to learn the reported total and page count
//   - Distributes remaining pages across workers
//   - Reassembles records in page order
//   - Returns partial data with the lowest failing page's error
//
// A failed page is not retried here. The harvest loop re-runs the whole pass
// and keeps whatever was accumulated.
package pagination
