package cache

import (
	"strings"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

const keyPrefix = "harvest:record"

// Key identifies one cached record.
type Key struct {
	// Source is the upstream name, e.g. "arxiv".
	Source string

	// ID is the record identifier; it is normalized before use.
	ID string
}

// String generates a deterministic cache key string.
// Format: harvest:record:<source>:<id>
//
// Example:
//
//	harvest:record:arxiv:2411.01234
func (k Key) String() string {
	source := strings.ToLower(strings.TrimSpace(k.Source))
	if source == "" {
		source = "unknown"
	}
	return strings.Join([]string{keyPrefix, source, record.NormalizeID(k.ID)}, ":")
}
