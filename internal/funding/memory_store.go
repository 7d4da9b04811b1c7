package funding

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory intent store for demo/development mode.
type MemoryStore struct {
	intents map[string]*FundingIntent
	byRef   map[string]string
	order   []string
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory intent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*FundingIntent),
		byRef:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, intent *FundingIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *intent
	m.intents[intent.ID] = &cp
	if intent.ExternalRef != "" {
		m.byRef[intent.ExternalRef] = intent.ID
	}
	m.order = append(m.order, intent.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*FundingIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (m *MemoryStore) GetByExternalRef(ctx context.Context, externalRef string) (*FundingIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[externalRef]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *m.intents[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, intent *FundingIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.intents[intent.ID]; !ok {
		return ErrIntentNotFound
	}
	cp := *intent
	m.intents[intent.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByOrg(ctx context.Context, orgID string, limit int) ([]*FundingIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*FundingIntent
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		intent := m.intents[m.order[i]]
		if intent.OrgID != orgID {
			continue
		}
		cp := *intent
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*FundingIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*FundingIntent
	for _, id := range m.order {
		intent := m.intents[id]
		if intent.Status != IntentPending || intent.ExpiresAt == nil || intent.ExpiresAt.After(now) {
			continue
		}
		cp := *intent
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
