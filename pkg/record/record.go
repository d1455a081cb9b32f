// Package record defines the normalized payload produced by every upstream
// source and the identifier rules that make records comparable across attempts.
package record

import (
	"regexp"
	"strings"
)

const (
	absBaseURL = "https://arxiv.org/abs/"
	pdfBaseURL = "https://arxiv.org/pdf/"
)

// Record is one harvested catalog entry.
type Record struct {
	ID            string   `json:"id"`
	Source        string   `json:"source,omitempty"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Abstract      string   `json:"abstract"`
	Categories    []string `json:"categories"`
	PublishedDate string   `json:"published_date"`
	URL           string   `json:"url"`
	PDFURL        string   `json:"pdf_url,omitempty"`
}

var versionSuffix = regexp.MustCompile(`v\d+$`)

// NormalizeID returns the stable, version-less form of an arXiv identifier.
// Prefixes such as "arXiv:" and abs/pdf URLs are accepted.
//
//	NormalizeID("http://arxiv.org/abs/2411.01234v2") == "2411.01234"
//	NormalizeID("arXiv:hep-th/9901001v1")           == "hep-th/9901001"
func NormalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	for _, marker := range []string{"/abs/", "/pdf/"} {
		if i := strings.Index(id, marker); i >= 0 {
			id = id[i+len(marker):]
		}
	}
	id = strings.TrimPrefix(id, "arXiv:")
	id = strings.TrimPrefix(id, "arxiv:")
	id = strings.TrimSuffix(id, ".pdf")
	id = strings.TrimSuffix(id, "/")
	return versionSuffix.ReplaceAllString(id, "")
}

// AbsURL returns the landing page URL for an arXiv id.
func AbsURL(id string) string {
	return absBaseURL + NormalizeID(id)
}

// PDFURL returns the fallback asset URL for an arXiv id.
func PDFURL(id string) string {
	return pdfBaseURL + NormalizeID(id) + ".pdf"
}

// CollapseSpace folds runs of whitespace (including the line breaks the
// arXiv API embeds in titles and abstracts) into single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
