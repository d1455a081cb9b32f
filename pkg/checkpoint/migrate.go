package checkpoint

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// legacyV0 is the unversioned layout: ids only, no payloads, a naive local
// timestamp, and the total under "total_expected".
type legacyV0 struct {
	FetchedIDs    []string `json:"fetched_ids"`
	TotalExpected *int     `json:"total_expected"`
	Attempts      int      `json:"attempts"`
	LastAttempt   *string  `json:"last_attempt"`
}

var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// Migration describes what Decode had to do to bring stored state current.
type Migration struct {
	// FromVersion is the stored schema version.
	FromVersion int

	// DroppedIDs counts ids that had no payload. They will be re-fetched.
	DroppedIDs int
}

// Decode parses stored checkpoint bytes of any known version and returns a
// current-version checkpoint with lock-step restored.
func Decode(key string, data []byte) (*Checkpoint, Migration, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, Migration{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	version := 0
	if probe.Version != nil {
		version = *probe.Version
	}

	var (
		cp      *Checkpoint
		dropped int
		err     error
	)
	switch version {
	case 0:
		cp, dropped, err = decodeV0(key, data)
	case CurrentVersion:
		cp, dropped, err = decodeV1(key, data)
	default:
		err = fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	if err != nil {
		return nil, Migration{}, err
	}
	return cp, Migration{FromVersion: version, DroppedIDs: dropped}, nil
}

func decodeV1(key string, data []byte) (*Checkpoint, int, error) {
	cp := New(key)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if cp.PartitionKey == "" {
		cp.PartitionKey = key
	}
	if cp.PartitionKey != key {
		return nil, 0, fmt.Errorf("%w: key %q stored under %q", ErrCorrupt, cp.PartitionKey, key)
	}
	if cp.Attempts < 0 {
		cp.Attempts = 0
	}
	if cp.ExpectedTotal != nil && *cp.ExpectedTotal < 0 {
		cp.ExpectedTotal = nil
	}
	cp.Version = CurrentVersion
	return cp, cp.rebuild(), nil
}

func decodeV0(key string, data []byte) (*Checkpoint, int, error) {
	var old legacyV0
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	cp := New(key)
	cp.Attempts = old.Attempts
	if old.TotalExpected != nil && *old.TotalExpected > 0 {
		cp.SetExpected(*old.TotalExpected)
	}
	if old.LastAttempt != nil {
		cp.LastAttemptAt = parseLegacyTime(*old.LastAttempt)
	}

	return cp, len(old.FetchedIDs), nil
}

func parseLegacyTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
