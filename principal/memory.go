package principal

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for tests and local demos.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Principal
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Principal)}
}

func (m *MemoryRepository) Create(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[p.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.byID {
		if existing.Email == p.Email ||
			(p.UsernameKey != "" && existing.UsernameKey == p.UsernameKey) ||
			(p.ExternalSubject != "" && existing.ExternalSubject == p.ExternalSubject) {
			return ErrDuplicate
		}
	}
	m.byID[p.ID] = p.Clone()
	return nil
}

func (m *MemoryRepository) ByID(_ context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryRepository) ByEmail(_ context.Context, normalizedEmail string) (*Principal, error) {
	return m.find(func(p *Principal) bool { return p.Email == normalizedEmail })
}

func (m *MemoryRepository) ByUsername(_ context.Context, usernameKey string) (*Principal, error) {
	if usernameKey == "" {
		return nil, ErrNotFound
	}
	return m.find(func(p *Principal) bool { return p.UsernameKey == usernameKey })
}

func (m *MemoryRepository) ByExternalSubject(_ context.Context, subject string) (*Principal, error) {
	if subject == "" {
		return nil, ErrNotFound
	}
	return m.find(func(p *Principal) bool { return p.ExternalSubject == subject })
}

func (m *MemoryRepository) SetExternalSubject(_ context.Context, id, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.ExternalSubject == subject {
		return nil
	}
	if p.ExternalSubject != "" {
		return ErrAlreadyLinked
	}
	for otherID, other := range m.byID {
		if otherID != id && other.ExternalSubject == subject {
			return ErrDuplicate
		}
	}
	p.ExternalSubject = subject
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) SetPasswordHash(_ context.Context, id, hash string) error {
	return m.mutate(id, func(p *Principal) { p.PasswordHash = hash })
}

func (m *MemoryRepository) SetStatus(_ context.Context, id string, status Status) error {
	return m.mutate(id, func(p *Principal) { p.Status = status })
}

func (m *MemoryRepository) SetRoles(_ context.Context, id string, roles []Role) error {
	return m.mutate(id, func(p *Principal) { p.Roles = append([]Role(nil), roles...) })
}

func (m *MemoryRepository) SetOverrides(_ context.Context, id string, o Overrides) error {
	return m.mutate(id, func(p *Principal) {
		p.Overrides = Overrides{
			Allow:      append([]string(nil), o.Allow...),
			Deny:       append([]string(nil), o.Deny...),
			AllowExtra: append([]string(nil), o.AllowExtra...),
		}
	})
}

func (m *MemoryRepository) find(match func(*Principal) bool) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.byID {
		if match(p) {
			return p.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) mutate(id string, fn func(*Principal)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC()
	return nil
}
