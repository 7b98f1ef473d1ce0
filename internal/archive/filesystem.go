package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"crepo/internal/cr"
)

const versionSuffix = ".version"

// FileSystemArchive keeps snapshots as files in a directory:
//
//	<root>/
//	  snapshots/
//	    <name>           (snapshot bytes)
//	    <name>.version   (encoded schema version)
type FileSystemArchive struct {
	root string
	dir  string
}

// NewFileSystemArchive creates an archive rooted at root, creating the directory layout.
func NewFileSystemArchive(root string) (*FileSystemArchive, error) {
	dir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSystemArchive{root: root, dir: dir}, nil
}

func (a *FileSystemArchive) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(a.dir, name), nil
}

// Put writes the snapshot atomically, then its version marker.
func (a *FileSystemArchive) Put(_ context.Context, name string, r io.Reader, size int64, version int64) error {
	dest, err := a.path(name)
	if err != nil {
		return err
	}
	if err := writeAtomic(dest, r, size); err != nil {
		return err
	}
	marker := []byte(strconv.FormatInt(version, 10))
	if err := os.WriteFile(dest+versionSuffix, marker, 0644); err != nil {
		return fmt.Errorf("writing version marker: %w", err)
	}
	return nil
}

func (a *FileSystemArchive) Get(_ context.Context, name string, w io.Writer) error {
	src, err := a.path(name)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", name, cr.ErrSnapshotNotFound)
	}
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

// Version returns 0 when no marker was written for name.
func (a *FileSystemArchive) Version(_ context.Context, name string) (int64, error) {
	src, err := a.path(name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(src + versionSuffix)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version marker: %w", err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version marker: %w", err)
	}
	return v, nil
}

func (a *FileSystemArchive) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || strings.HasSuffix(n, versionSuffix) {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSetup checks that the snapshot directory exists and accepts writes.
func (a *FileSystemArchive) ValidateSetup(_ context.Context) error {
	info, err := os.Stat(a.dir)
	if err != nil {
		return fmt.Errorf("archive directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive path is not a directory: %s", a.dir)
	}
	f, err := os.CreateTemp(a.dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("archive directory not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeAtomic copies r into a temp file beside dest and renames it into place once
// exactly size bytes have been written.
func writeAtomic(dest string, r io.Reader, size int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	ok = true
	return nil
}

var _ cr.Archive = (*FileSystemArchive)(nil)
