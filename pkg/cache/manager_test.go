package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/record"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis returns a client backed by an in-memory miniredis server.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestNewManager(t *testing.T) {
	_, client := setupTestRedis(t)

	manager := NewManager(client, 0)
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.ttl != 24*time.Hour {
		t.Errorf("default ttl = %s, want 24h", manager.ttl)
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, time.Hour)
}

func TestManager_SetGet(t *testing.T) {
	_, client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)
	ctx := context.Background()

	rec := record.Record{ID: "2411.01234", Source: "arxiv", Title: "A Paper"}
	if err := manager.Set(ctx, rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, err := manager.Get(ctx, Key{Source: "arxiv", ID: "2411.01234v2"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Record.Title != "A Paper" {
		t.Errorf("Title = %q", entry.Record.Title)
	}
}

func TestManager_GetMiss(t *testing.T) {
	_, client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)

	_, err := manager.Get(context.Background(), Key{Source: "arxiv", ID: "missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_GetInvalidEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)

	key := Key{Source: "arxiv", ID: "broken"}
	if err := mr.Set(key.String(), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := manager.Get(context.Background(), key)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	manager := NewManager(client, time.Minute)
	ctx := context.Background()

	if err := manager.Set(ctx, record.Record{ID: "1", Source: "arxiv"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := manager.Get(ctx, Key{Source: "arxiv", ID: "1"}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after expiry, got %v", err)
	}
}

func TestManager_GetManySetMany(t *testing.T) {
	_, client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)
	ctx := context.Background()

	err := manager.SetMany(ctx, []record.Record{
		{ID: "a", Source: "arxiv", Title: "A"},
		{ID: "c", Source: "arxiv", Title: "C"},
		{ID: "", Source: "arxiv"},
	})
	if err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	found, missing, err := manager.GetMany(ctx, "arxiv", []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}

	if len(found) != 2 || found["a"].Title != "A" || found["c"].Title != "C" {
		t.Errorf("unexpected found set: %+v", found)
	}
	if len(missing) != 2 || missing[0] != "b" || missing[1] != "d" {
		t.Errorf("missing = %v, want [b d]", missing)
	}
}

func TestManager_Delete(t *testing.T) {
	_, client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)
	ctx := context.Background()

	_ = manager.Set(ctx, record.Record{ID: "x", Source: "arxiv"})
	if err := manager.Delete(ctx, Key{Source: "arxiv", ID: "x"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, Key{Source: "arxiv", ID: "x"}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected miss after delete, got %v", err)
	}
}
