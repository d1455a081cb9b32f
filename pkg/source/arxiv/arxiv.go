// Package arxiv adapts the arXiv Atom query API to source.Source.
package arxiv

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/arxiv-harvester/pkg/cache"
	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/rs/zerolog"
)

// Name is the source name used in keys, metrics and records.
const Name = "arxiv"

const (
	// DefaultAPIURL is the public query endpoint.
	DefaultAPIURL = "http://export.arxiv.org/api/query"

	// DefaultPageSize is the page size used by the original daily harvester.
	DefaultPageSize = 100

	// MaxPageSize is the largest max_results the API honours in one response.
	MaxPageSize = 2000

	queryDateLayout = "20060102"
)

// Config holds the adapter configuration.
type Config struct {
	APIURL   string
	PageSize int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		APIURL:   DefaultAPIURL,
		PageSize: DefaultPageSize,
	}
}

// Source is the arXiv API adapter.
type Source struct {
	client *client.Client
	config Config
	cache  *cache.Manager
	logger zerolog.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithCache enables the Redis record cache for id-list fetches.
func WithCache(m *cache.Manager) Option {
	return func(s *Source) { s.cache = m }
}

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// New creates an arXiv adapter on top of a rate-limited client.
func New(c *client.Client, cfg Config, opts ...Option) (*Source, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size must be in [1, %d], got %d", MaxPageSize, cfg.PageSize)
	}

	s := &Source{
		client: c,
		config: cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "arxiv-source").Logger()

	return s, nil
}

// Name implements source.Source.
func (s *Source) Name() string {
	return Name
}

// PageSize returns the configured page size.
func (s *Source) PageSize() int {
	return s.config.PageSize
}

// FetchPage implements source.Source.
func (s *Source) FetchPage(ctx context.Context, p partition.Partition, page int) (*source.Page, error) {
	if p.HasIDs() {
		return nil, fmt.Errorf("%w: id partitions are fetched by id", source.ErrUnsupported)
	}
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}

	start := (page - 1) * s.config.PageSize
	body, err := s.client.Get(ctx, s.SearchURL(p, start))
	if err != nil {
		return nil, err
	}

	result, err := parseFeed(body)
	if err != nil {
		return nil, err
	}

	total := result.Total
	if len(result.Records) == 0 && total > start {
		// The API intermittently answers with an empty feed while still
		// reporting the full total; the page is retried by the caller.
		return nil, &client.SourceError{
			Source:  Name,
			Class:   client.ErrorClassServer,
			Message: fmt.Sprintf("empty page at offset %d of %d", start, total),
		}
	}

	s.logger.Debug().
		Str("partition", p.Key()).
		Int("page", page).
		Int("records", len(result.Records)).
		Int("total", total).
		Msg("Fetched page")

	return &source.Page{
		Number:     page,
		Records:    result.Records,
		Total:      total,
		TotalPages: source.TotalPages(total, s.config.PageSize),
	}, nil
}

// FetchByIDs implements source.Source. Ids are requested in id_list batches of
// PageSize; cached records are served from Redis when a cache is configured.
// The result follows the order of ids.
func (s *Source) FetchByIDs(ctx context.Context, ids []string) ([]record.Record, error) {
	wanted := normalizeIDs(ids)
	if len(wanted) == 0 {
		return nil, nil
	}

	got := make(map[string]record.Record, len(wanted))
	remaining := wanted

	if s.cache != nil {
		found, missing, err := s.cache.GetMany(ctx, Name, wanted)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Record cache lookup failed, fetching all ids")
		} else {
			for id, rec := range found {
				got[id] = rec
			}
			remaining = missing
		}
	}

	var fetchErr error
	for start := 0; start < len(remaining); start += s.config.PageSize {
		end := start + s.config.PageSize
		if end > len(remaining) {
			end = len(remaining)
		}
		chunk := remaining[start:end]

		body, err := s.client.Get(ctx, s.IDListURL(chunk))
		if err != nil {
			fetchErr = err
			break
		}
		result, err := parseFeed(body)
		if err != nil {
			fetchErr = err
			break
		}

		for _, rec := range result.Records {
			got[rec.ID] = rec
		}
		if s.cache != nil {
			if err := s.cache.SetMany(ctx, result.Records); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to cache fetched records")
			}
		}
	}

	out := make([]record.Record, 0, len(got))
	for _, id := range wanted {
		if rec, ok := got[id]; ok {
			out = append(out, rec)
		}
	}
	return out, fetchErr
}

// SearchURL builds the category × submitted-date query for p starting at offset start.
func (s *Source) SearchURL(p partition.Partition, start int) string {
	query := fmt.Sprintf("cat:%s AND submittedDate:[%s0000 TO %s2359]",
		p.Category, p.From.Format(queryDateLayout), p.To.Format(queryDateLayout))

	v := url.Values{}
	v.Set("search_query", query)
	v.Set("start", strconv.Itoa(start))
	v.Set("max_results", strconv.Itoa(s.config.PageSize))
	v.Set("sortBy", "submittedDate")
	v.Set("sortOrder", "descending")

	return s.config.APIURL + "?" + v.Encode()
}

// IDListURL builds an id_list query.
func (s *Source) IDListURL(ids []string) string {
	v := url.Values{}
	v.Set("id_list", strings.Join(ids, ","))
	v.Set("start", "0")
	v.Set("max_results", strconv.Itoa(len(ids)))

	return s.config.APIURL + "?" + v.Encode()
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := record.NormalizeID(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
