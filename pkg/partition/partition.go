// Package partition identifies a single unit of harvest work.
package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

const (
	// DateLayout is the civil date format used in keys, output names and CLI flags.
	DateLayout = "2006-01-02"

	compactDateLayout = "20060102"
)

// Partition is either a category × date window or an explicit ordered id list.
// Values are immutable once constructed; use ForDate or ForIDs.
type Partition struct {
	Source   string
	Category string
	From     time.Time
	To       time.Time
	IDs      []string
	Label    string
}

// ForDate builds a category partition covering a single day.
func ForDate(source, category string, date time.Time) Partition {
	day := truncateDay(date)
	return Partition{
		Source:   source,
		Category: category,
		From:     day,
		To:       day,
		Label:    category,
	}
}

// ForIDs builds an explicit-id partition. Ids are normalized the way sources
// report them (blank ids dropped) and their order is kept. Label names the
// partition in snapshot metadata; when empty it defaults to "ids".
func ForIDs(source, label string, ids []string) Partition {
	if label == "" {
		label = "ids"
	}
	cp := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = record.NormalizeID(id); id != "" {
			cp = append(cp, id)
		}
	}
	return Partition{Source: source, IDs: cp, Label: label}
}

// HasIDs reports whether the partition is an explicit id list.
func (p Partition) HasIDs() bool {
	return p.IDs != nil
}

// Key returns a filesystem-safe key unique to this partition.
func (p Partition) Key() string {
	if p.HasIDs() {
		sum := sha256.Sum256([]byte(strings.Join(p.IDs, ",")))
		return fmt.Sprintf("%s_%s_%s", p.Source, sanitize(p.Label), hex.EncodeToString(sum[:])[:12])
	}
	key := fmt.Sprintf("%s_%s_%s", p.Source, sanitize(p.Category), p.From.Format(compactDateLayout))
	if !p.To.Equal(p.From) {
		key += "-" + p.To.Format(compactDateLayout)
	}
	return key
}

// OutputKey groups partitions that share one snapshot file.
func (p Partition) OutputKey() string {
	if p.HasIDs() {
		return p.Label
	}
	return p.From.Format(DateLayout)
}

// DateRange renders the window as "YYYY-MM-DD to YYYY-MM-DD".
func (p Partition) DateRange() string {
	if p.HasIDs() {
		return ""
	}
	return p.From.Format(DateLayout) + " to " + p.To.Format(DateLayout)
}

func (p Partition) String() string {
	if p.HasIDs() {
		return fmt.Sprintf("%s:%s(%d ids)", p.Source, p.Label, len(p.IDs))
	}
	return fmt.Sprintf("%s:%s@%s", p.Source, p.Category, p.From.Format(DateLayout))
}

// ParseDate parses a YYYY-MM-DD civil date in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// LookbackDates returns the days preceding now, most recent first:
// yesterday, the day before, ... up to days entries.
func LookbackDates(now time.Time, days int) []time.Time {
	if days < 1 {
		days = 1
	}
	today := truncateDay(now)
	dates := make([]time.Time, 0, days)
	for i := 1; i <= days; i++ {
		dates = append(dates, today.AddDate(0, 0, -i))
	}
	return dates
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
