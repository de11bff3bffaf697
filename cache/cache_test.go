package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(MemoryConfig{MaxSize: 10, DefaultTTL: time.Minute})

	if err := c.Set(ctx, "folder/1", []byte(`{"_id":"1"}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "folder/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"_id":"1"}` {
		t.Errorf("got %q", got)
	}

	if _, err := c.Get(ctx, "folder/2"); !errors.Is(err, ErrMiss) {
		t.Errorf("missing key: err = %v, want ErrMiss", err)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(DefaultMemoryConfig())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", []byte("v"), time.Second)
	now = now.Add(2 * time.Second)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired key: err = %v, want ErrMiss", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after expiry", c.Len())
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(MemoryConfig{MaxSize: 3, DefaultTTL: time.Minute})

	for i := 0; i < 3; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	// Touch k0 so k1 becomes the oldest.
	if _, err := c.Get(ctx, "k0"); err != nil {
		t.Fatalf("Get k0: %v", err)
	}
	_ = c.Set(ctx, "k3", []byte("v"), 0)

	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrMiss) {
		t.Errorf("k1 should have been evicted, err = %v", err)
	}
	if _, err := c.Get(ctx, "k0"); err != nil {
		t.Errorf("k0 should be present: %v", err)
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(DefaultMemoryConfig())
	_ = c.Set(ctx, "k", []byte("abc"), 0)

	got, _ := c.Get(ctx, "k")
	got[0] = 'x'

	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWithClient(RedisConfig{Address: mr.Addr(), Prefix: "shelf:"}, client), mr
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)

	if err := store.Set(ctx, "item/9", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("shelf:item/9") {
		t.Fatal("expected prefixed key in redis")
	}
	got, err := store.Get(ctx, "item/9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q, want payload", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "item/9"); !errors.Is(err, ErrMiss) {
		t.Errorf("after TTL: err = %v, want ErrMiss", err)
	}
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)

	_ = store.Set(ctx, "k", []byte("v"), 0)
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("err = %v, want ErrMiss", err)
	}
}

func TestNewRedisPingFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedis(ctx, RedisConfig{Address: addr}); err == nil {
		t.Fatal("expected ping failure against a closed server")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:", time.Minute)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	if err := s.Set(ctx, "user/me", []byte(`{"login":"admin"}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "user/me", []byte(`{"login":"root"}`), 0); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := s.Get(ctx, "user/me")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"login":"root"}` {
		t.Errorf("got %q", got)
	}
	if err := s.Delete(ctx, "user/me"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "user/me"); !errors.Is(err, ErrMiss) {
		t.Errorf("err = %v, want ErrMiss", err)
	}
}

func TestSQLiteExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:", time.Minute)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	_ = s.Set(ctx, "a", []byte("1"), time.Second)
	_ = s.Set(ctx, "b", []byte("2"), time.Second)
	_ = s.Set(ctx, "c", []byte("3"), time.Hour)

	now = now.Add(time.Minute)
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired get: err = %v, want ErrMiss", err)
	}
	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if _, err := s.Get(ctx, "c"); err != nil {
		t.Errorf("c should survive: %v", err)
	}
}
