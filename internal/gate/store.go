package gate

import (
	"context"
	"time"
)

// Store describes persistence operations required by the gate. The
// uniqueness invariants (one row per address, at most one pending request
// per profile+address pair) are the storage layer's responsibility, not the
// caller's.
type Store interface {
	Profiles(ctx context.Context) ProfileStore
	Addresses(ctx context.Context) AddressStore
	Requests(ctx context.Context) RequestStore
}

// ProfileStore reads operator-provisioned profiles.
type ProfileStore interface {
	Find(ctx context.Context, id string) (*Profile, error)
}

// AddressStore manages the allowed address list.
type AddressStore interface {
	// Contains reports whether the address has been cleared for staff login.
	Contains(ctx context.Context, address string) (bool, error)
	// Add inserts the address if absent. Re-adding an existing address is a
	// no-op, never an error.
	Add(ctx context.Context, addr *AllowedAddress) error
}

// RequestStore manages access request lifecycle.
type RequestStore interface {
	Find(ctx context.Context, id string) (*AccessRequest, error)
	// CreatePending atomically inserts req as PENDING, or returns the
	// request that already holds the pending slot for the same
	// (profile_id, address) pair. Two concurrent calls must collapse to a
	// single row.
	CreatePending(ctx context.Context, req *AccessRequest) (*AccessRequest, error)
	// Resolve transitions the request out of PENDING. It reports false when
	// no pending row was updated, i.e. another resolver won the race.
	Resolve(ctx context.Context, id string, status RequestState, resolvedBy string, at time.Time) (bool, error)
}
