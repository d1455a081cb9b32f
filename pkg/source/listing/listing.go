// Package listing reads arXiv's per-category "pastweek" listing pages. A listing
// is the authoritative id set for recent days and is used as the superset when
// filling gaps left by the query API.
package listing

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/partition"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the listing root.
	DefaultBaseURL = "https://arxiv.org/list"

	// DefaultShow requests enough entries to cover a full week of a busy category.
	DefaultShow = 2000

	headerDateLayout = "Mon, 2 Jan 2006"
)

// Listing is the parsed content of one pastweek page.
type Listing struct {
	Category string

	// Dates holds the announced dates in page order (most recent first), as YYYY-MM-DD.
	Dates []string

	// IDs maps each date to its ids in page order.
	IDs map[string][]string
}

// IDsFor returns the ids announced on date, or nil.
func (l *Listing) IDsFor(date time.Time) []string {
	return l.IDs[date.Format(partition.DateLayout)]
}

// Total returns the number of ids across all dates.
func (l *Listing) Total() int {
	n := 0
	for _, ids := range l.IDs {
		n += len(ids)
	}
	return n
}

// Lister fetches listing pages through the rate-limited client.
type Lister struct {
	client  *client.Client
	baseURL string
	show    int
	logger  zerolog.Logger
}

// New creates a Lister. Empty baseURL and non-positive show use the defaults.
func New(c *client.Client, baseURL string, show int, logger zerolog.Logger) *Lister {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if show <= 0 {
		show = DefaultShow
	}
	return &Lister{
		client:  c,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		show:    show,
		logger:  logger.With().Str("component", "listing").Logger(),
	}
}

// Fetch downloads and parses the pastweek listing of category.
func (l *Lister) Fetch(ctx context.Context, category string) (*Listing, error) {
	url := fmt.Sprintf("%s/%s/pastweek?show=%d", l.baseURL, category, l.show)

	body, err := l.client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", category, err)
	}

	listing, err := Parse(category, body)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("category", category).
		Int("dates", len(listing.Dates)).
		Int("ids", listing.Total()).
		Msg("Fetched listing")

	return listing, nil
}

// Parse extracts {date: [ids]} from a listing page. Each h3 header starts a
// day; the dt entries that follow it (as siblings, or inside a following dl)
// carry the /abs/ links.
func Parse(category string, body []byte) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, client.NewParseError("listing", "invalid html", err)
	}

	listing := &Listing{
		Category: category,
		IDs:      make(map[string][]string),
	}

	doc.Find("h3").Each(func(_ int, h3 *goquery.Selection) {
		date, ok := parseHeaderDate(h3.Text())
		if !ok {
			return
		}
		key := date.Format(partition.DateLayout)
		if _, seen := listing.IDs[key]; !seen {
			listing.Dates = append(listing.Dates, key)
		}

		collect := func(dt *goquery.Selection) {
			href, ok := dt.Find(`a[href^="/abs/"]`).First().Attr("href")
			if !ok {
				return
			}
			if id := record.NormalizeID(href); id != "" {
				listing.IDs[key] = append(listing.IDs[key], id)
			}
		}

		h3.NextUntil("h3").Each(func(_ int, sib *goquery.Selection) {
			if goquery.NodeName(sib) == "dt" {
				collect(sib)
				return
			}
			sib.Find("dt").Each(func(_ int, dt *goquery.Selection) { collect(dt) })
		})
	})

	if len(listing.Dates) == 0 {
		return nil, client.NewParseError("listing", "no date sections found", nil)
	}

	return listing, nil
}

// parseHeaderDate reads "Tue, 26 Nov 2024 (showing 150 of 150 entries )".
func parseHeaderDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "("); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	d, err := time.ParseInLocation(headerDateLayout, text, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
