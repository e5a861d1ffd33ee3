package cli

import (
	"context"
	"sync"

	"github.com/clean-dependency-project/ultiserve/internal/storage"
)

// mockStore implements storage.Store for testing.
type mockStore struct {
	mu       sync.Mutex
	accesses []*storage.Access
	closed   bool
	listErr  error
}

// RecordAccess implements storage.Store.
func (m *mockStore) RecordAccess(_ context.Context, access *storage.Access) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses = append(m.accesses, access)
	return nil
}

// ListRecent implements storage.Store.
func (m *mockStore) ListRecent(_ context.Context, limit int) ([]*storage.Access, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit > len(m.accesses) {
		limit = len(m.accesses)
	}
	return m.accesses[:limit], nil
}

// CountByStatus implements storage.Store.
func (m *mockStore) CountByStatus(_ context.Context) (map[int]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int]int64)
	for _, a := range m.accesses {
		counts[a.Status]++
	}
	return counts, nil
}

// Close implements storage.Store.
func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// useMockStore swaps the access store opener for the duration of the test.
func useMockStore(t interface{ Cleanup(func()) }, store *mockStore) *[]string {
	var opened []string
	original := openAccessStore
	openAccessStore = func(path string) (storage.Store, error) {
		opened = append(opened, path)
		return store, nil
	}
	t.Cleanup(func() { openAccessStore = original })
	return &opened
}
