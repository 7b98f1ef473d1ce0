package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"crepo/internal/cr"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryArchive keeps snapshots in memory. It is safe for concurrent use.
type MemoryArchive struct {
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{snapshots: make(map[string]memorySnapshot)}
}

func (m *MemoryArchive) Put(_ context.Context, name string, r io.Reader, size int64, version int64) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[name] = memorySnapshot{data: data, version: version}
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	snap, ok := m.snapshots[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, cr.ErrSnapshotNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryArchive) Version(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[name].version, nil
}

func (m *MemoryArchive) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.snapshots))
	for n := range m.snapshots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryArchive) ValidateSetup(context.Context) error { return nil }

var _ cr.Archive = (*MemoryArchive)(nil)
