// Package pubmed adapts PubMed search RSS feeds to source.Source. A feed has no
// reported total and no id lookup; it is harvested as a single page per
// partition and completes on the stall rule.
package pubmed

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

// Name is the source name used in keys, metrics and records.
const Name = "pubmed"

var trailingDigits = regexp.MustCompile(`(\d+)/?(?:\?.*)?$`)

// Source is the PubMed RSS adapter. Feeds maps a category label to its RSS URL.
type Source struct {
	client *client.Client
	feeds  map[string]string
	logger zerolog.Logger
}

// New creates a PubMed adapter.
func New(c *client.Client, feeds map[string]string, logger zerolog.Logger) (*Source, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one feed is required")
	}
	return &Source{
		client: c,
		feeds:  feeds,
		logger: logger.With().Str("component", "pubmed-source").Logger(),
	}, nil
}

// Name implements source.Source.
func (s *Source) Name() string {
	return Name
}

// FetchPage implements source.Source. Only page 1 exists.
func (s *Source) FetchPage(ctx context.Context, p partition.Partition, page int) (*source.Page, error) {
	if page != 1 {
		return &source.Page{Number: page, Total: source.UnknownTotal, TotalPages: 1}, nil
	}

	feedURL, ok := s.feeds[p.Category]
	if !ok {
		return nil, &client.SourceError{
			Source:  Name,
			Class:   client.ErrorClassClient,
			Message: fmt.Sprintf("no feed configured for %q", p.Category),
		}
	}

	body, err := s.client.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, client.NewParseError(Name, "invalid rss feed", err)
	}

	recs := make([]record.Record, 0, len(feed.Items))
	for _, item := range feed.Items {
		rec, published, ok := itemToRecord(item, p.Category)
		if !ok {
			continue
		}
		if !published.IsZero() && !p.From.IsZero() && !inWindow(published, p) {
			continue
		}
		recs = append(recs, rec)
	}

	s.logger.Debug().
		Str("partition", p.Key()).
		Int("items", len(feed.Items)).
		Int("records", len(recs)).
		Msg("Fetched feed")

	return &source.Page{
		Number:     1,
		Records:    recs,
		Total:      source.UnknownTotal,
		TotalPages: 1,
	}, nil
}

// FetchByIDs implements source.Source. RSS feeds cannot be queried by id.
func (s *Source) FetchByIDs(context.Context, []string) ([]record.Record, error) {
	return nil, fmt.Errorf("pubmed: %w", source.ErrUnsupported)
}

func itemToRecord(item *gofeed.Item, category string) (record.Record, time.Time, bool) {
	var pmid, doi string
	var authors []string
	var published time.Time

	if dc := item.DublinCoreExt; dc != nil {
		for _, ident := range dc.Identifier {
			switch {
			case strings.HasPrefix(ident, "pmid:"):
				pmid = strings.TrimPrefix(ident, "pmid:")
			case strings.HasPrefix(ident, "doi:"):
				doi = strings.TrimPrefix(ident, "doi:")
			}
		}
		authors = append(authors, dc.Creator...)
		if len(dc.Date) > 0 {
			if d, err := time.Parse(partition.DateLayout, strings.TrimSpace(dc.Date[0])); err == nil {
				published = d
			}
		}
	}

	if pmid == "" {
		if m := trailingDigits.FindStringSubmatch(item.Link); m != nil {
			pmid = m[1]
		}
	}
	if pmid == "" {
		return record.Record{}, time.Time{}, false
	}

	if len(authors) == 0 {
		for _, a := range item.Authors {
			if a != nil && a.Name != "" {
				authors = append(authors, a.Name)
			}
		}
	}
	if published.IsZero() && item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	}

	rec := record.Record{
		ID:         pmid,
		Source:     Name,
		Title:      record.CollapseSpace(item.Title),
		Authors:    authors,
		Abstract:   record.CollapseSpace(item.Description),
		Categories: []string{category},
		URL:        fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid),
	}
	if !published.IsZero() {
		rec.PublishedDate = published.Format(partition.DateLayout)
	}
	if doi != "" {
		rec.PDFURL = "https://doi.org/" + doi
	}

	return rec, published, true
}

func inWindow(t time.Time, p partition.Partition) bool {
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return !day.Before(p.From) && !day.After(p.To)
}
