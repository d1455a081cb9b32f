package testutil

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

// Paper is a catalog entry served by the mock upstream.
type Paper struct {
	ID         string
	Title      string
	Summary    string
	Authors    []string
	Categories []string
	Published  time.Time
}

// MakePapers builds n papers with ids "<prefix>.00001"... in category cat,
// all submitted on date.
func MakePapers(prefix string, n int, cat string, date time.Time) []Paper {
	papers := make([]Paper, n)
	for i := range papers {
		papers[i] = Paper{
			ID:         fmt.Sprintf("%s.%05d", prefix, i+1),
			Title:      fmt.Sprintf("Paper %d in %s", i+1, cat),
			Summary:    fmt.Sprintf("Abstract of paper %d.", i+1),
			Authors:    []string{"Ada Lovelace", fmt.Sprintf("Author %d", i+1)},
			Categories: []string{cat},
			Published:  date.Add(time.Duration(i) * time.Minute),
		}
	}
	return papers
}

// MakeRecords builds n normalized records with ids "<prefix>.00001"...
func MakeRecords(prefix string, n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		id := fmt.Sprintf("%s.%05d", prefix, i+1)
		recs[i] = record.Record{
			ID:       id,
			Source:   "fake",
			Title:    "Record " + id,
			Authors:  []string{"Ada Lovelace"},
			Abstract: "Abstract " + id,
			URL:      record.AbsURL(id),
			PDFURL:   record.PDFURL(id),
		}
	}
	return recs
}

// AtomFeed renders an arXiv API response. A negative total omits
// opensearch:totalResults.
func AtomFeed(total, start int, papers []Paper) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/" xmlns:arxiv="http://arxiv.org/schemas/atom">` + "\n")
	b.WriteString("  <title>ArXiv Query</title>\n  <id>http://arxiv.org/api/mock</id>\n  <updated>2024-11-26T00:00:00-05:00</updated>\n")
	if total >= 0 {
		fmt.Fprintf(&b, "  <opensearch:totalResults>%d</opensearch:totalResults>\n", total)
	}
	fmt.Fprintf(&b, "  <opensearch:startIndex>%d</opensearch:startIndex>\n", start)
	fmt.Fprintf(&b, "  <opensearch:itemsPerPage>%d</opensearch:itemsPerPage>\n", len(papers))

	for _, p := range papers {
		b.WriteString("  <entry>\n")
		fmt.Fprintf(&b, "    <id>http://arxiv.org/abs/%sv1</id>\n", p.ID)
		fmt.Fprintf(&b, "    <updated>%s</updated>\n", p.Published.Format(time.RFC3339))
		fmt.Fprintf(&b, "    <published>%s</published>\n", p.Published.Format(time.RFC3339))
		fmt.Fprintf(&b, "    <title>%s</title>\n", html.EscapeString(p.Title))
		fmt.Fprintf(&b, "    <summary>  %s\n  </summary>\n", html.EscapeString(p.Summary))
		for _, a := range p.Authors {
			fmt.Fprintf(&b, "    <author><name>%s</name></author>\n", html.EscapeString(a))
		}
		fmt.Fprintf(&b, "    <link href=\"http://arxiv.org/abs/%sv1\" rel=\"alternate\" type=\"text/html\"/>\n", p.ID)
		fmt.Fprintf(&b, "    <link title=\"pdf\" href=\"http://arxiv.org/pdf/%sv1\" rel=\"related\" type=\"application/pdf\"/>\n", p.ID)
		if len(p.Categories) > 0 {
			fmt.Fprintf(&b, "    <arxiv:primary_category term=\"%s\" scheme=\"http://arxiv.org/schemas/atom\"/>\n", p.Categories[0])
		}
		for _, c := range p.Categories {
			fmt.Fprintf(&b, "    <category term=\"%s\" scheme=\"http://arxiv.org/schemas/atom\"/>\n", c)
		}
		b.WriteString("  </entry>\n")
	}
	b.WriteString("</feed>\n")
	return b.String()
}

// AtomError renders the error feed the API returns for a malformed query.
func AtomError(message string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/">
  <title>ArXiv Query</title>
  <id>http://arxiv.org/api/mock</id>
  <updated>2024-11-26T00:00:00-05:00</updated>
  <opensearch:totalResults>1</opensearch:totalResults>
  <entry>
    <id>http://arxiv.org/api/errors#bad_query</id>
    <title>Error</title>
    <summary>` + html.EscapeString(message) + `</summary>
  </entry>
</feed>
`
}

// ListingHTML renders a /list/<cat>/pastweek page with one h3 section per date.
// Dates are rendered most recent first, ids in the given order.
func ListingHTML(byDate map[string][]string) string {
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Listing</title></head><body>\n<div id=\"dlpage\">\n<dl id=\"articles\">\n")
	item := 1
	for _, d := range dates {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		ids := byDate[d]
		fmt.Fprintf(&b, "<h3>%s (showing %d of %d entries )</h3>\n", day.Format("Mon, 2 Jan 2006"), len(ids), len(ids))
		for _, id := range ids {
			fmt.Fprintf(&b, "<dt><a name=\"item%d\">[%d]</a> <a href=\"/abs/%s\" title=\"Abstract\" id=\"%s\">arXiv:%s</a> [<a href=\"/pdf/%s\" title=\"Download PDF\">pdf</a>]</dt>\n",
				item, item, id, id, id, id)
			fmt.Fprintf(&b, "<dd><div class=\"meta\"><div class=\"list-title mathjax\"><span class=\"descriptor\">Title:</span> Paper %s</div></div></dd>\n", id)
			item++
		}
	}
	b.WriteString("</dl>\n</div>\n</body></html>\n")
	return b.String()
}

// PubMedItem is one item of a PubMed search RSS feed.
type PubMedItem struct {
	PMID    string
	DOI     string
	Title   string
	Authors []string
	Date    time.Time
}

// PubMedRSS renders a PubMed RSS feed with Dublin Core metadata.
func PubMedRSS(items []PubMedItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
<title>pubmed: machine learning</title>
<link>https://pubmed.ncbi.nlm.nih.gov/rss/search/mock/</link>
<description>mock</description>
`)
	for _, it := range items {
		b.WriteString("<item>\n")
		fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(it.Title))
		fmt.Fprintf(&b, "<link>https://pubmed.ncbi.nlm.nih.gov/%s/?utm_source=rss</link>\n", it.PMID)
		fmt.Fprintf(&b, "<description>%s abstract</description>\n", html.EscapeString(it.Title))
		fmt.Fprintf(&b, "<guid isPermaLink=\"false\">pubmed:%s</guid>\n", it.PMID)
		fmt.Fprintf(&b, "<pubDate>%s</pubDate>\n", it.Date.Format(time.RFC1123Z))
		for _, a := range it.Authors {
			fmt.Fprintf(&b, "<dc:creator>%s</dc:creator>\n", html.EscapeString(a))
		}
		fmt.Fprintf(&b, "<dc:date>%s</dc:date>\n", it.Date.Format("2006-01-02"))
		fmt.Fprintf(&b, "<dc:identifier>pmid:%s</dc:identifier>\n", it.PMID)
		if it.DOI != "" {
			fmt.Fprintf(&b, "<dc:identifier>doi:%s</dc:identifier>\n", it.DOI)
		}
		b.WriteString("</item>\n")
	}
	b.WriteString("</channel>\n</rss>\n")
	return b.String()
}
