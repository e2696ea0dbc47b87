// Package storage holds cover image blobs. Writes are staged first and
// committed only after the surrounding database transaction succeeds, so a
// rolled-back book never leaves a file behind.
package storage

import (
	"context"
	"io"
)

// StagedCover is a pending write. Exactly one of Commit or Discard must be
// called.
type StagedCover interface {
	// Commit publishes the staged bytes under their final name.
	Commit(ctx context.Context) error
	// Discard drops the staged bytes.
	Discard(ctx context.Context) error
}

// CoverStore persists cover files keyed by filename.
type CoverStore interface {
	Stage(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (StagedCover, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
	Remove(ctx context.Context, filename string) error
}
