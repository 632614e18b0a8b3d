package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maastricht-university/codebook-trainer/cache"
)

func stores(t *testing.T) map[string]cache.Store {
	t.Helper()
	b, err := cache.NewBadger(cache.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]cache.Store{
		"memory": cache.NewMemory(),
		"badger": b,
	}
}

func TestStoreGetSet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := cache.Key{"features", "abc"}

			if _, err := s.Get(ctx, key); !errors.Is(err, cache.ErrNotFound) {
				t.Fatalf("Get missing: got %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, key, []byte("one")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, key, []byte("two")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "two" {
				t.Fatalf("Get = %q, want %q", got, "two")
			}
		})
	}
}

func TestNewBadgerRequiresDir(t *testing.T) {
	if _, err := cache.NewBadger(cache.BadgerOptions{}); err == nil {
		t.Fatal("expected error without Dir")
	}
}

func TestBadgerOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := cache.Key{"features", "persisted"}

	b, err := cache.NewBadger(cache.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := b.Set(ctx, key, []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = cache.NewBadger(cache.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	got, err := b.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}
}
