package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fongpn/fmfv6/internal/ids"
	"github.com/fongpn/fmfv6/internal/obs"
)

// UnknownAddress is the comparison key used when the client address cannot
// be derived from the connection. It is an ordinary registry key: admins
// ignore it, staff logins from it queue for approval like any other.
const UnknownAddress = "unknown"

// Authenticator verifies credentials against the identity store and mints a
// session. Who the caller is stays a separate concern from where they may
// connect from; the gate never re-checks passwords itself.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (AuthUser, Session, error)
}

// Service implements the login decision and approval resolution over a
// shared registry.
type Service struct {
	store Store
	authn Authenticator
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, authn Authenticator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("gate: store is required")
	}
	if authn == nil {
		return nil, errors.New("gate: authenticator is required")
	}
	s := &Service{store: store, authn: authn, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AttemptLogin runs the full login decision for a credential pair and the
// client address it arrived from.
//
// The credential check always happens first: a wrong password is rejected
// before any role or address state is consulted, so the failure mode leaks
// nothing about either. Admins are granted unconditionally. Staff are
// granted only from listed addresses; anything else lands in the approval
// queue and the caller gets the pending request id back.
//
// The identity store mints a session as part of the credential check even
// when the outcome is deferred. That session is dropped here, never
// returned; the address gate blocks its use. It is not revoked.
func (s *Service) AttemptLogin(ctx context.Context, email, password, clientAddress string) (LoginResult, error) {
	clientAddress = strings.TrimSpace(clientAddress)
	if clientAddress == "" {
		clientAddress = UnknownAddress
	}

	user, session, err := s.authn.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("%w: authenticate: %v", ErrStorageUnavailable, err)
	}

	profile, err := s.store.Profiles(ctx).Find(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrProfileNotFound
		}
		return LoginResult{}, fmt.Errorf("%w: find profile: %v", ErrStorageUnavailable, err)
	}
	if !profile.Active {
		// Disabled accounts fail exactly like bad passwords.
		return LoginResult{}, ErrInvalidCredentials
	}

	if !profile.Role.Known() {
		return LoginResult{}, ErrUnknownRole
	}
	if profile.Role == RoleAdmin {
		return LoginResult{Outcome: OutcomeGranted, User: user, Profile: profile, Session: session}, nil
	}

	allowed, err := s.store.Addresses(ctx).Contains(ctx, clientAddress)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: address lookup: %v", ErrStorageUnavailable, err)
	}
	if allowed {
		return LoginResult{Outcome: OutcomeGranted, User: user, Profile: profile, Session: session}, nil
	}
	req, err := s.store.Requests(ctx).CreatePending(ctx, &AccessRequest{
		ID:          ids.New(),
		ProfileID:   profile.ID,
		Address:     clientAddress,
		Status:      StatePending,
		RequestedAt: s.now().UTC(),
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: queue request: %v", ErrStorageUnavailable, err)
	}
	return LoginResult{Outcome: OutcomeDeferred, RequestID: req.ID}, nil
}

// ResolveRequest finalizes a pending access request. Only admins may
// resolve; a resolved request is terminal and resolving it again fails with
// ErrAlreadyResolved rather than being silently accepted.
func (s *Service) ResolveRequest(ctx context.Context, requestID string, action Action, resolver *Profile) (Resolution, error) {
	if !action.Known() {
		return Resolution{}, ErrBadAction
	}
	if resolver == nil || resolver.Role != RoleAdmin {
		return Resolution{}, ErrForbidden
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Resolution{}, ErrNotFound
	}

	requests := s.store.Requests(ctx)
	req, err := requests.Find(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolution{}, ErrNotFound
		}
		return Resolution{}, fmt.Errorf("%w: find request: %v", ErrStorageUnavailable, err)
	}
	if req.Status != StatePending {
		return Resolution{}, ErrAlreadyResolved
	}

	target := StateDenied
	if action == ActionApprove {
		target = StateApproved
	}
	resolvedAt := s.now().UTC()
	updated, err := requests.Resolve(ctx, req.ID, target, resolver.ID, resolvedAt)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: resolve request: %v", ErrStorageUnavailable, err)
	}
	if !updated {
		// Another resolver got there between the read and the update.
		return Resolution{}, ErrAlreadyResolved
	}

	if action == ActionApprove {
		// The status transition above is the ground truth. A failed address
		// insert is logged and retried implicitly by the next approval of
		// the same address, not surfaced to the resolver.
		err := s.store.Addresses(ctx).Add(ctx, &AllowedAddress{
			Address: req.Address,
			AddedBy: resolver.ID,
			AddedAt: resolvedAt,
		})
		if err != nil {
			obs.LogRequest(map[string]any{
				"ts":         resolvedAt.Format(time.RFC3339Nano),
				"level":      "error",
				"msg":        "allowed_address_insert_failed",
				"request_id": req.ID,
				"address":    req.Address,
				"error":      err.Error(),
			})
		}
	}

	return Resolution{RequestID: req.ID, Action: action, ResolvedAt: resolvedAt}, nil
}

// RequestStatus returns the current state of a request for polling callers.
// Pure read, no side effects.
func (s *Service) RequestStatus(ctx context.Context, requestID string) (RequestStatus, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return RequestStatus{}, ErrNotFound
	}
	req, err := s.store.Requests(ctx).Find(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RequestStatus{}, ErrNotFound
		}
		return RequestStatus{}, fmt.Errorf("%w: find request: %v", ErrStorageUnavailable, err)
	}
	return RequestStatus{Status: req.Status, ResolvedAt: req.ResolvedAt}, nil
}

// Profile loads a profile by identity handle. Used by the HTTP layer to
// resolve the acting admin behind a bearer token.
func (s *Service) Profile(ctx context.Context, id string) (*Profile, error) {
	profile, err := s.store.Profiles(ctx).Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: find profile: %v", ErrStorageUnavailable, err)
	}
	return profile, nil
}
