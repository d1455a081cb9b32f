package cache

import (
	"testing"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
)

func TestEntry_IsExpired(t *testing.T) {
	fresh := NewEntry(record.Record{ID: "1"}, time.Hour, time.Now())
	if fresh.IsExpired() {
		t.Error("fresh entry should not be expired")
	}
	if fresh.TTL() <= 0 {
		t.Error("fresh entry should have positive TTL")
	}

	stale := NewEntry(record.Record{ID: "1"}, time.Hour, time.Now().Add(-2*time.Hour))
	if !stale.IsExpired() {
		t.Error("stale entry should be expired")
	}
	if stale.TTL() != 0 {
		t.Errorf("stale TTL = %s, want 0", stale.TTL())
	}
}
