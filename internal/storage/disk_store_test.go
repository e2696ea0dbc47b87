package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskStoreStageCommitOpen(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}

	staged, err := store.Stage(ctx, "abc.png", strings.NewReader("png-bytes"), 9, "image/png")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	// Not visible before commit.
	if _, err := store.Open(ctx, "abc.png"); err == nil {
		t.Fatalf("staged file must not be readable before commit")
	}
	if err := staged.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rc, err := store.Open(ctx, "abc.png")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestDiskStoreDiscardLeavesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}

	staged, err := store.Stage(ctx, "abc.png", strings.NewReader("png-bytes"), 9, "image/png")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := staged.Discard(ctx); err != nil {
		t.Fatalf("discard: %v", err)
	}

	if _, err := store.Open(ctx, "abc.png"); err == nil {
		t.Fatalf("discarded file must not exist")
	}
	entries, err := os.ReadDir(filepath.Join(dir, stagingDir))
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging dir must be empty after discard, got %d entries", len(entries))
	}
}

func TestDiskStoreRemoveMissingIsNoError(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	if err := store.Remove(context.Background(), "nope.png"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestSafeFilenameStripsPathComponents(t *testing.T) {
	if got := safeFilename("../../etc/passwd"); got != "passwd" {
		t.Fatalf("expected base name, got %q", got)
	}
	if got := safeFilename(""); got != "cover" {
		t.Fatalf("expected fallback name, got %q", got)
	}
}
