package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const stagingDir = ".staging"

// DiskStore keeps cover files in a flat directory on the local filesystem.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the base and staging directories if missing.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("cover storage path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{basePath: basePath}, nil
}

type diskStaged struct {
	tempPath  string
	finalPath string
}

// Stage writes the bytes to a temporary file inside the staging directory.
func (d *DiskStore) Stage(_ context.Context, filename string, r io.Reader, _ int64, _ string) (StagedCover, error) {
	filename = safeFilename(filename)
	tempPath := filepath.Join(d.basePath, stagingDir, uuid.NewString())
	out, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("write staging file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("close staging file: %w", err)
	}
	return &diskStaged{
		tempPath:  tempPath,
		finalPath: filepath.Join(d.basePath, filename),
	}, nil
}

func (s *diskStaged) Commit(_ context.Context) error {
	if err := os.Rename(s.tempPath, s.finalPath); err != nil {
		return fmt.Errorf("publish cover: %w", err)
	}
	return nil
}

func (s *diskStaged) Discard(_ context.Context) error {
	if err := os.Remove(s.tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged cover: %w", err)
	}
	return nil
}

// Open returns the stored file for streaming.
func (d *DiskStore) Open(_ context.Context, filename string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.basePath, safeFilename(filename)))
	if err != nil {
		return nil, fmt.Errorf("open cover: %w", err)
	}
	return f, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (d *DiskStore) Remove(_ context.Context, filename string) error {
	err := os.Remove(filepath.Join(d.basePath, safeFilename(filename)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cover: %w", err)
	}
	return nil
}

// safeFilename strips path components so a crafted name cannot escape the
// storage directory.
func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "cover"
	}
	return name
}
