package blobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirMode  = 0o700
	fileMode = 0o600

	// tempMarker identifies in-flight writes. Files carrying it are never
	// returned by Read and are swept on open.
	tempMarker = ".tmp-"
)

// Dir stores blobs as files in a single directory.
//
// Writes go to a temp file in the same directory, are fsynced and then
// renamed over the target, so a crash leaves either the old blob or the new
// one, never a truncated file.
type Dir struct {
	root   string
	logger *slog.Logger
}

// DirOption configures a Dir.
type DirOption func(*Dir)

// WithDirLogger sets the logger.
func WithDirLogger(logger *slog.Logger) DirOption {
	return func(d *Dir) {
		d.logger = logger
	}
}

// OpenDir creates root if needed and removes temp files left by a crash.
func OpenDir(root string, opts ...DirOption) (*Dir, error) {
	d := &Dir{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := d.sweepTemp(); err != nil {
		return nil, err
	}
	return d, nil
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// Read returns the blob stored under name.
func (d *Dir) Read(name string) ([]byte, error) {
	path, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Write atomically replaces the blob stored under name.
func (d *Dir) Write(name string, data []byte) (err error) {
	path, err := d.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.root, "."+name+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("write %s: create temp: %w", name, err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("write %s: sync: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: close: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("write %s: atomic rename: %w", name, err)
	}
	cleanupTmp = false

	// The blob is already in place; a failed directory sync only weakens
	// durability on some filesystems.
	if err := syncDir(d.root); err != nil {
		d.logger.Warn("directory sync failed", "dir", d.root, "error", err)
	}
	return nil
}

// Remove deletes the blob stored under name.
func (d *Dir) Remove(name string) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// path validates name and joins it to the root.
func (d *Dir) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, tempMarker) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(d.root, name), nil
}

func (d *Dir) sweepTemp() error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("failed to list blob directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, e.Name())); err != nil {
			d.logger.Warn("failed to remove stale temp file", "file", e.Name(), "error", err)
			continue
		}
		d.logger.Debug("removed stale temp file", "file", e.Name())
	}
	return nil
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
