package arxiv

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
)

type feedResult struct {
	Total   int
	Records []record.Record
}

// parseFeed turns an API response into records. The API reports query errors
// as a single entry whose id lives under /api/errors.
func parseFeed(body []byte) (*feedResult, error) {
	parser := &atom.Parser{}

	feed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, client.NewParseError(Name, "invalid atom feed", err)
	}

	result := &feedResult{
		Total:   totalResults(feed.Extensions),
		Records: make([]record.Record, 0, len(feed.Entries)),
	}

	for _, entry := range feed.Entries {
		if strings.Contains(entry.ID, "/api/errors") {
			return nil, client.NewParseError(Name, "api error: "+record.CollapseSpace(entry.Summary), nil)
		}

		rec, ok := entryToRecord(entry)
		if !ok {
			continue
		}
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

func entryToRecord(entry *atom.Entry) (record.Record, bool) {
	id := record.NormalizeID(entry.ID)
	if id == "" {
		return record.Record{}, false
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	rec := record.Record{
		ID:            id,
		Source:        Name,
		Title:         record.CollapseSpace(entry.Title),
		Authors:       authors,
		Abstract:      record.CollapseSpace(entry.Summary),
		Categories:    categories(entry),
		PublishedDate: publishedDate(entry),
		URL:           record.AbsURL(id),
		PDFURL:        pdfLink(entry),
	}
	if rec.PDFURL == "" {
		rec.PDFURL = record.PDFURL(id)
	}

	return rec, true
}

// categories lists the primary category first, then the remaining terms.
func categories(entry *atom.Entry) []string {
	var out []string
	seen := map[string]bool{}
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term != "" && !seen[term] {
			seen[term] = true
			out = append(out, term)
		}
	}

	for _, elems := range entry.Extensions {
		for _, primary := range elems["primary_category"] {
			add(primary.Attrs["term"])
		}
	}
	for _, c := range entry.Categories {
		add(c.Term)
	}
	return out
}

func publishedDate(entry *atom.Entry) string {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC().Format(time.RFC3339)
	}
	return strings.TrimSpace(entry.Published)
}

func pdfLink(entry *atom.Entry) string {
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			return link.Href
		}
	}
	return ""
}

// totalResults finds opensearch:totalResults regardless of the prefix the
// feed bound the namespace to.
func totalResults(extensions ext.Extensions) int {
	for _, elems := range extensions {
		for _, e := range elems["totalResults"] {
			if n, err := strconv.Atoi(strings.TrimSpace(e.Value)); err == nil && n >= 0 {
				return n
			}
		}
	}
	return source.UnknownTotal
}
