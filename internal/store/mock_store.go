// ABOUTME: Mock ActivityStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"slices"
	"sync"
)

// MockStore is an in-memory ActivityStore for testing.
type MockStore struct {
	mu       sync.RWMutex
	activity []Activity
	closed   bool
}

var _ ActivityStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// AppendActivity stores a copy of a.
func (m *MockStore) AppendActivity(ctx context.Context, a *Activity) error {
	if err := prepareActivity(a); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *a
	c.Items = slices.Clone(a.Items)
	m.activity = append(m.activity, c)
	return nil
}

// ListActivity returns matching activity, newest first.
func (m *MockStore) ListActivity(ctx context.Context, f ActivityFilter) ([]Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Activity{}
	for i := len(m.activity) - 1; i >= 0; i-- {
		a := m.activity[i]
		if f.Action != "" && a.Action != f.Action {
			continue
		}
		if f.SessionID != "" && a.SessionID != f.SessionID {
			continue
		}
		out = append(out, a)
	}
	slices.SortStableFunc(out, func(a, b Activity) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
