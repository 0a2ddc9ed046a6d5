package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockerSerializesPodcast(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	locker := NewLocker(dir, 150*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "pod")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(locker.Path("pod")); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	start := time.Now()
	if _, err := locker.Acquire(ctx, "pod"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Fatalf("gave up after %s, expected to wait for the timeout", waited)
	}

	other, err := locker.Acquire(ctx, "other-pod")
	if err != nil {
		t.Fatalf("independent podcast blocked: %v", err)
	}
	other()

	release()
	again, err := locker.Acquire(ctx, "pod")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestLockerRejectsPathLikeIDs(t *testing.T) {
	locker := NewLocker(t.TempDir(), 0)
	for _, id := range []string{"", "  ", "..", "a/b", `a\b`} {
		if _, err := locker.Acquire(context.Background(), id); err == nil {
			t.Fatalf("expected error for podcast id %q", id)
		}
	}
}

func TestFeedCacheWritesPerDestination(t *testing.T) {
	cache := NewFeedCache(filepath.Join(t.TempDir(), "feeds"))
	if err := cache.Write("pod", "dest-a", []byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cache.Write("pod", "dest-b", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cache.Write("pod", "dest-a", []byte("a2")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	for id, want := range map[string]string{"dest-a": "a2", "dest-b": "b"} {
		got, err := cache.Read("pod", id)
		if err != nil || string(got) != want {
			t.Fatalf("Read(%s) = %q, %v", id, got, err)
		}
	}
	if err := cache.Write("../escape", "dest", []byte("x")); err == nil {
		t.Fatal("expected path-like podcast id to be rejected")
	}
}
