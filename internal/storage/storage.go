// Package storage is the filesystem side of a merge: segment copies, the
// merged artifact and the report.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FS is the filesystem collaborator of a run. Segment copies go through
// WriteFile; the merged artifact, the clean playlist and the report are
// streamed through WriteAtomic.
type FS interface {
	Exists(path string) bool
	Size(path string) (int64, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	WriteAtomic(path string, write func(io.Writer) error) error
}

// Disk implements FS on the local filesystem. Writes are atomic, so a file
// that exists is always complete.
type Disk struct{}

// Exists reports whether path is an existing regular file.
func (Disk) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size of path in bytes.
func (Disk) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadFile returns the contents of path.
func (Disk) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile atomically replaces path with data, creating parent directories.
func (Disk) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteAtomic is the package-level WriteAtomic on the local filesystem.
func (Disk) WriteAtomic(path string, write func(io.Writer) error) error {
	return WriteAtomic(path, write)
}

// IsNotExist reports whether err means the file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// WriteAtomic streams into a pending file and renames it over path only if
// write returns nil.
func WriteAtomic(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer pending.Cleanup()

	if err := write(pending); err != nil {
		return err
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
