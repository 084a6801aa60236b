package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

// memStore is an in-memory Store with the same conditional-update semantics
// as the Postgres repository.
type memStore struct {
	mu            sync.Mutex
	users         map[string]User
	roles         map[string]map[string]bool
	refresh       map[string]refreshRecord
	verifications map[string]VerificationToken
	audits        []AuditEntry
	assignRoleErr  error
	insertAuditErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]User),
		roles:         make(map[string]map[string]bool),
		refresh:       make(map[string]refreshRecord),
		verifications: make(map[string]VerificationToken),
	}
}

func (m *memStore) withRoles(u User) User {
	roles := make([]string, 0, len(m.roles[u.ID]))
	for role := range m.roles[u.ID] {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	u.Roles = roles
	return u
}

func (m *memStore) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return m.withRoles(u), nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) FindByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.withRoles(u), nil
}

func (m *memStore) FindByPhone(_ context.Context, phone string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone != nil && *u.Phone == phone {
			return m.withRoles(u), nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) Create(_ context.Context, in NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == in.Email {
			return User{}, ErrDuplicateEmail
		}
		if in.Phone != nil && u.Phone != nil && *u.Phone == *in.Phone {
			return User{}, ErrDuplicatePhone
		}
	}
	now := time.Now().UTC()
	u := User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Name:         in.Name,
		Phone:        in.Phone,
		Company:      in.Company,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[u.ID] = u
	return m.withRoles(u), nil
}

func (m *memStore) UpdateProfile(_ context.Context, userID string, update ProfileUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	if update.Name != nil {
		u.Name = *update.Name
	}
	if update.Phone != nil {
		u.Phone = emptyToNil(*update.Phone)
	}
	if update.Company != nil {
		u.Company = emptyToNil(*update.Company)
	}
	m.users[userID] = u
	return m.withRoles(u), nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (m *memStore) SetLockout(_ context.Context, userID string, until time.Time) error {
	return m.mutate(userID, func(u *User) {
		u.FailedLoginAttempts++
		u.LockedUntil = &until
	})
}

func (m *memStore) ResetLockout(_ context.Context, userID string, now time.Time) error {
	return m.mutate(userID, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLogin = &now
	})
}

func (m *memStore) TouchLastLogin(_ context.Context, userID string, now time.Time) error {
	return m.mutate(userID, func(u *User) { u.LastLogin = &now })
}

func (m *memStore) MarkEmailVerified(_ context.Context, userID string) error {
	return m.mutate(userID, func(u *User) { u.EmailVerified = true })
}

func (m *memStore) mutate(userID string, fn func(u *User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	m.users[userID] = u
	return nil
}

func (m *memStore) AssignRole(_ context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assignRoleErr != nil {
		return m.assignRoleErr
	}
	if m.roles[userID] == nil {
		m.roles[userID] = make(map[string]bool)
	}
	m.roles[userID][role] = true
	return nil
}

func (m *memStore) RolesFor(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withRoles(User{ID: userID}).Roles, nil
}

func (m *memStore) CreateRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) FindRefreshToken(_ context.Context, tokenHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.refresh[tokenHash]
	if !ok || !rec.expiresAt.After(now) {
		return "", ErrNotFound
	}
	return rec.userID, nil
}

func (m *memStore) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) CreateVerificationToken(_ context.Context, token VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[token.TokenHash] = token
	return nil
}

func (m *memStore) RedeemVerificationToken(_ context.Context, kind VerificationKind, tokenHash string, now time.Time) (VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.verifications[tokenHash]
	if !ok || token.Kind != kind || token.Used || !token.ExpiresAt.After(now) {
		return VerificationToken{}, ErrNotFound
	}
	token.Used = true
	m.verifications[tokenHash] = token
	return token, nil
}

func (m *memStore) InvalidateEmailTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, token := range m.verifications {
		if token.Kind == VerificationEmail && token.UserID == userID && !token.Used {
			token.Used = true
			m.verifications[hash] = token
		}
	}
	return nil
}

func (m *memStore) InsertAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertAuditErr != nil {
		return m.insertAuditErr
	}
	entry.ID = int64(len(m.audits) + 1)
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, 0, limit)
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audits[i])
	}
	return out, nil
}

func (m *memStore) tokens(kind VerificationKind, userID string) (used, unused int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.verifications {
		if token.Kind != kind || token.UserID != userID {
			continue
		}
		if token.Used {
			used++
		} else {
			unused++
		}
	}
	return used, unused
}

func (m *memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audits))
	for _, entry := range m.audits {
		actions = append(actions, entry.Action)
	}
	return actions
}

func (m *memStore) user(id string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withRoles(m.users[id])
}

func (m *memStore) setActive(id string, active bool) {
	_ = m.mutate(id, func(u *User) { u.IsActive = active })
}

var errStoreDown = errors.New("store down")
