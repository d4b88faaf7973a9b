package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/milkyano/barber-core/services/auth/internal/domain"
)

// MemoryUserRepository keeps users in process. It enforces the same
// uniqueness rules as the users table and backs STORE_DRIVER=memory and tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byPhone map[string]string
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]*domain.User),
		byPhone: make(map[string]string),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *MemoryUserRepository) Create(_ context.Context, nu *domain.NewUser) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byPhone[nu.PhoneNumber]; taken {
		return nil, domain.PhoneConflict()
	}
	if nu.Email != nil {
		if _, taken := m.byEmail[*nu.Email]; taken {
			return nil, domain.EmailConflict()
		}
	}

	now := m.now()
	u := &domain.User{
		ID:           uuid.NewString(),
		PhoneNumber:  nu.PhoneNumber,
		Email:        nu.Email,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		IsVerified:   nu.IsVerified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u = u.Clone()
	m.byID[u.ID] = u
	m.byPhone[u.PhoneNumber] = u.ID
	if u.Email != nil {
		m.byEmail[*u.Email] = u.ID
	}
	return u.Clone(), nil
}

func (m *MemoryUserRepository) FindByPhone(_ context.Context, phone string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byPhone[phone]), nil
}

func (m *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byEmail[email]), nil
}

func (m *MemoryUserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(id), nil
}

func (m *MemoryUserRepository) lookup(id string) *domain.User {
	if u, ok := m.byID[id]; ok {
		return u.Clone()
	}
	return nil
}

func (m *MemoryUserRepository) MarkVerified(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if u.IsVerified {
		return false, nil
	}
	u.IsVerified = true
	u.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryUserRepository) UpdatePhone(_ context.Context, id, phone string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if owner, taken := m.byPhone[phone]; taken && owner != id {
		return nil, domain.PhoneConflict()
	}
	if u.PhoneNumber != phone {
		delete(m.byPhone, u.PhoneNumber)
		u.PhoneNumber = phone
		m.byPhone[phone] = id
	}
	u.UpdatedAt = m.now()
	return u.Clone(), nil
}

func (m *MemoryUserRepository) UpdateProfile(_ context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Email != nil {
		if owner, taken := m.byEmail[*upd.Email]; taken && owner != id {
			return nil, domain.EmailConflict()
		}
		if u.Email != nil {
			delete(m.byEmail, *u.Email)
		}
		email := *upd.Email
		u.Email = &email
		m.byEmail[email] = id
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	u.UpdatedAt = m.now()
	return u.Clone(), nil
}

func (m *MemoryUserRepository) SetPassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = &passwordHash
	u.UpdatedAt = m.now()
	return nil
}

func (m *MemoryUserRepository) SetExternalCustomerID(_ context.Context, id, extID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	if u.ExternalCustomerID == nil {
		u.ExternalCustomerID = &extID
		u.UpdatedAt = m.now()
	}
	return *u.ExternalCustomerID, nil
}

func (m *MemoryUserRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byPhone, u.PhoneNumber)
	if u.Email != nil {
		delete(m.byEmail, *u.Email)
	}
	return nil
}

func (m *MemoryUserRepository) List(_ context.Context, limit, offset int) ([]domain.User, error) {
	limit, offset = clampPage(limit, offset)

	m.mu.RLock()
	users := make([]domain.User, 0, len(m.byID))
	for _, u := range m.byID {
		users = append(users, *u.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})

	if offset >= len(users) {
		return nil, nil
	}
	end := offset + limit
	if end > len(users) {
		end = len(users)
	}
	return users[offset:end], nil
}
