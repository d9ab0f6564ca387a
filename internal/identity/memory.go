package identity

import (
	"context"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used in tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]User
	byEmail map[string]string
	tokens  map[string]RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]RefreshToken),
	}
}

// PutUser provisions a user, standing in for operator provisioning.
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.byEmail[strings.ToLower(u.Email)] = u.ID
}

func (m *MemoryStore) Users(context.Context) UserStore                 { return (*memUsers)(m) }
func (m *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokens)(m) }

type memUsers MemoryStore

func (s *memUsers) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

type memTokens MemoryStore

func (s *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.ID] = *tok
	return nil
}

func (s *memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := tok
	return &out, nil
}

func (s *memTokens) MarkRevoked(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	s.tokens[id] = tok
	return nil
}
