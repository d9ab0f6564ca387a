package gate

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used in tests and local development.
// It enforces the same uniqueness invariants the PostgreSQL schema does:
// one row per address, at most one pending request per profile+address.
type MemoryStore struct {
	mu        sync.Mutex
	profiles  map[string]Profile
	addresses map[string]AllowedAddress
	requests  map[string]AccessRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[string]Profile),
		addresses: make(map[string]AllowedAddress),
		requests:  make(map[string]AccessRequest),
	}
}

// PutProfile provisions a profile, standing in for operator provisioning.
func (m *MemoryStore) PutProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryStore) Profiles(context.Context) ProfileStore  { return (*memProfiles)(m) }
func (m *MemoryStore) Addresses(context.Context) AddressStore { return (*memAddresses)(m) }
func (m *MemoryStore) Requests(context.Context) RequestStore  { return (*memRequests)(m) }

type memProfiles MemoryStore

func (s *memProfiles) Find(_ context.Context, id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := p
	return &out, nil
}

type memAddresses MemoryStore

func (s *memAddresses) Contains(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.addresses[address]
	return ok, nil
}

func (s *memAddresses) Add(_ context.Context, addr *AllowedAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addresses[addr.Address]; ok {
		return nil
	}
	m := *addr
	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now().UTC()
	}
	s.addresses[addr.Address] = m
	return nil
}

type memRequests MemoryStore

func (s *memRequests) Find(_ context.Context, id string) (*AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := req
	return &out, nil
}

func (s *memRequests) CreatePending(_ context.Context, req *AccessRequest) (*AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.ProfileID == req.ProfileID && existing.Address == req.Address && existing.Status == StatePending {
			out := existing
			return &out, nil
		}
	}
	stored := *req
	stored.Status = StatePending
	s.requests[stored.ID] = stored
	out := stored
	return &out, nil
}

func (s *memRequests) Resolve(_ context.Context, id string, status RequestState, resolvedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != StatePending {
		return false, nil
	}
	req.Status = status
	req.ResolvedBy = resolvedBy
	t := at
	req.ResolvedAt = &t
	s.requests[id] = req
	return true, nil
}
