package execution

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local development and tests.
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]*Execution
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*Execution),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Create(_ context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[e.JobID]; exists {
		return ErrDuplicateJob
	}

	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	e.UpdatedAt = e.CreatedAt

	m.rows[e.JobID] = e.clone()
	return nil
}

func (m *MemoryStore) GetByJobID(_ context.Context, jobID string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.rows[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, jobID string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[jobID]
	if !ok {
		return ErrNotFound
	}

	e.Status = u.Status
	if e.StartedAt == nil && u.StartedAt != nil {
		v := *u.StartedAt
		e.StartedAt = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		e.CompletedAt = &v
	}
	if u.Error != nil {
		msg := *u.Error
		e.Error = &msg
	}
	if u.IncrementRetry {
		e.RetryCount++
	}
	e.UpdatedAt = m.now()

	return nil
}

func (m *MemoryStore) List(_ context.Context, filter Filter) ([]Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Execution, 0, len(m.rows))
	for _, e := range m.rows {
		if !matches(e, filter) {
			continue
		}
		matched = append(matched, *e.clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].JobID > matched[j].JobID
	})

	if filter.PageSize > 0 && len(matched) > filter.PageSize+1 {
		matched = matched[:filter.PageSize+1]
	}

	return matched, nil
}

// Len returns the number of stored rows
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func matches(e *Execution, f Filter) bool {
	if f.JobType != "" && e.JobType != f.JobType {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if f.OrganizationID != "" && (e.OrganizationID == nil || *e.OrganizationID != f.OrganizationID) {
		return false
	}
	if f.Cursor != nil {
		if e.CreatedAt.After(f.Cursor.CreatedAt) {
			return false
		}
		if e.CreatedAt.Equal(f.Cursor.CreatedAt) && e.JobID >= f.Cursor.JobID {
			return false
		}
	}
	return true
}
