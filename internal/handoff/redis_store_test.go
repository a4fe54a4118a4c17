package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"editorbridge/internal/threads"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url", time.Minute); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestSaveAndTake(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	err := store.Save(ctx, "doc-1", Payload{
		HTML:         "<p>hi</p>",
		CommentsData: []threads.Thread{{ThreadID: "t1", Comments: []threads.Comment{{ID: "c1", Content: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Take(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got.HTML != "<p>hi</p>" || len(got.CommentsData) != 1 || got.CommentsData[0].ThreadID != "t1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.StagedAt.IsZero() {
		t.Error("expected StagedAt to be set")
	}

	if _, err := store.Take(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Take: expected ErrNotFound, got %v", err)
	}
}

func TestTakeExpired(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "doc-2", Payload{HTML: "x"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.Take(ctx, "doc-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestKeysAreScopedPerDocument(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	store := NewRedisStoreWithClient(client, 0)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	if err := store.Save(ctx, "a", Payload{HTML: "A"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !s.Exists("handoff:a") {
		t.Fatal("expected handoff:a key")
	}
	if ttl := s.TTL("handoff:a"); ttl != 10*time.Minute {
		t.Errorf("expected default ttl, got %v", ttl)
	}
	if _, err := store.Take(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other doc, got %v", err)
	}
}
