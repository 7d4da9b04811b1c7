package orgs

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory organization store for demo/development mode.
type MemoryStore struct {
	orgs   map[string]*Organization
	bySlug map[string]string
	order  []string
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory organization store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:   make(map[string]*Organization),
		bySlug: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bySlug[org.Slug]; ok {
		return ErrSlugTaken
	}
	cp := *org
	m.orgs[org.ID] = &cp
	m.bySlug[org.Slug] = org.ID
	m.order = append(m.order, org.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrgNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *MemoryStore) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySlug[slug]
	if !ok {
		return nil, ErrOrgNotFound
	}
	cp := *m.orgs[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orgs[org.ID]; !ok {
		return ErrOrgNotFound
	}
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.orgs[id]
	if !ok {
		return ErrOrgNotFound
	}
	delete(m.orgs, id)
	delete(m.bySlug, org.Slug)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Organization
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *m.orgs[m.order[i]]
		result = append(result, &cp)
	}
	return result, nil
}
