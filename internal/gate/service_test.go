package gate

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubAuthenticator struct {
	accounts map[string]stubAccount
}

type stubAccount struct {
	password string
	userID   string
}

func (a *stubAuthenticator) Authenticate(_ context.Context, email, password string) (AuthUser, Session, error) {
	acct, ok := a.accounts[email]
	if !ok || acct.password != password {
		return AuthUser{}, Session{}, ErrInvalidCredentials
	}
	return AuthUser{ID: acct.userID, Email: email}, Session{
			AccessToken:      "access-" + acct.userID,
			RefreshToken:     "refresh-" + acct.userID,
			AccessExpiresAt:  time.Now().Add(15 * time.Minute),
			RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		},
		nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.PutProfile(Profile{ID: "admin-1", DisplayName: "Owner", Role: RoleAdmin, Active: true})
	store.PutProfile(Profile{ID: "staff-1", DisplayName: "Front Desk", Role: RoleStaff, Active: true})
	store.PutProfile(Profile{ID: "staff-2", DisplayName: "Trainer", Role: RoleStaff, Active: true})
	store.PutProfile(Profile{ID: "odd-1", DisplayName: "Migrated", Role: Role("supervisor"), Active: true})
	store.PutProfile(Profile{ID: "gone-1", DisplayName: "Former Staff", Role: RoleStaff, Active: false})

	authn := &stubAuthenticator{accounts: map[string]stubAccount{
		"owner@example.com":   {password: "owner-pass", userID: "admin-1"},
		"desk@example.com":    {password: "desk-pass", userID: "staff-1"},
		"trainer@example.com": {password: "trainer-pass", userID: "staff-2"},
		"ghost@example.com":   {password: "ghost-pass", userID: "ghost-1"},
		"odd@example.com":     {password: "odd-pass", userID: "odd-1"},
		"former@example.com":  {password: "former-pass", userID: "gone-1"},
	}}

	svc, err := NewService(store, authn)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func adminProfile() *Profile {
	return &Profile{ID: "admin-1", DisplayName: "Owner", Role: RoleAdmin, Active: true}
}

func TestAdminGrantedFromAnyAddress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, addr := range []string{"10.0.0.5", "203.0.113.77", UnknownAddress, ""} {
		res, err := svc.AttemptLogin(ctx, "owner@example.com", "owner-pass", addr)
		if err != nil {
			t.Fatalf("admin login from %q: %v", addr, err)
		}
		if res.Outcome != OutcomeGranted {
			t.Fatalf("admin login from %q: outcome %s", addr, res.Outcome)
		}
		if res.Session.AccessToken == "" {
			t.Fatalf("granted login missing session")
		}
		if res.Profile == nil || res.Profile.Role != RoleAdmin {
			t.Fatalf("granted login missing profile")
		}
	}
}

func TestStaffGrantedFromListedAddress(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := store.Addresses(ctx).Add(ctx, &AllowedAddress{Address: "10.0.0.5", AddedBy: "admin-1"}); err != nil {
		t.Fatalf("seed address: %v", err)
	}

	res, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.5")
	if err != nil {
		t.Fatalf("staff login: %v", err)
	}
	if res.Outcome != OutcomeGranted {
		t.Fatalf("expected granted, got %s", res.Outcome)
	}
}

func TestStaffDeferredFromUnlistedAddress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if first.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", first.Outcome)
	}
	if first.RequestID == "" {
		t.Fatalf("deferred result missing request id")
	}
	if first.Session.AccessToken != "" || first.Session.RefreshToken != "" {
		t.Fatalf("deferred result must not carry a session")
	}
	if first.Profile != nil || first.User.ID != "" {
		t.Fatalf("deferred result must not carry user or profile")
	}

	// A retry before resolution reuses the pending request.
	second, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.RequestID != first.RequestID {
		t.Fatalf("expected reused request id %s, got %s", first.RequestID, second.RequestID)
	}
}

func TestApproveThenLoginGranted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	deferred, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	resolution, err := svc.ResolveRequest(ctx, deferred.RequestID, ActionApprove, adminProfile())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolution.Action != ActionApprove {
		t.Fatalf("unexpected action %s", resolution.Action)
	}

	res, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.5")
	if err != nil {
		t.Fatalf("login after approval: %v", err)
	}
	if res.Outcome != OutcomeGranted {
		t.Fatalf("expected granted after approval, got %s", res.Outcome)
	}

	// The approval also clears the address for other staff.
	other, err := svc.AttemptLogin(ctx, "trainer@example.com", "trainer-pass", "10.0.0.5")
	if err != nil {
		t.Fatalf("other staff login: %v", err)
	}
	if other.Outcome != OutcomeGranted {
		t.Fatalf("expected granted for other staff, got %s", other.Outcome)
	}
}

func TestDenyLeavesAddressGatedWithFreshRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	deferred, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ResolveRequest(ctx, deferred.RequestID, ActionDeny, adminProfile()); err != nil {
		t.Fatalf("deny: %v", err)
	}

	res, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("login after denial: %v", err)
	}
	if res.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred after denial, got %s", res.Outcome)
	}
	if res.RequestID == deferred.RequestID {
		t.Fatalf("denied request must not be reused")
	}
}

func TestResolveTwiceFails(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	deferred, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ResolveRequest(ctx, deferred.RequestID, ActionApprove, adminProfile()); err != nil {
		t.Fatalf("approve: %v", err)
	}

	for _, action := range []Action{ActionApprove, ActionDeny} {
		_, err := svc.ResolveRequest(ctx, deferred.RequestID, action, adminProfile())
		if !errors.Is(err, ErrAlreadyResolved) {
			t.Fatalf("resolve twice (%s): expected ErrAlreadyResolved, got %v", action, err)
		}
	}

	store.mu.Lock()
	count := len(store.addresses)
	store.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected one allowed address row, got %d", count)
	}
}

func TestResolveByStaffForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	deferred, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	staff := &Profile{ID: "staff-2", Role: RoleStaff, Active: true}
	if _, err := svc.ResolveRequest(ctx, deferred.RequestID, ActionApprove, staff); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// No mutation: the request is still pending.
	status, err := svc.RequestStatus(ctx, deferred.RequestID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != StatePending {
		t.Fatalf("expected request still pending, got %s", status.Status)
	}
}

func TestResolveValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ResolveRequest(ctx, "missing", ActionApprove, adminProfile()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ResolveRequest(ctx, "whatever", Action("ESCALATE"), adminProfile()); !errors.Is(err, ErrBadAction) {
		t.Fatalf("expected ErrBadAction, got %v", err)
	}
	if _, err := svc.ResolveRequest(ctx, "whatever", ActionDeny, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for nil resolver, got %v", err)
	}
}

func TestWrongPasswordNeverDefers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, email := range []string{"owner@example.com", "desk@example.com", "nobody@example.com"} {
		_, err := svc.AttemptLogin(ctx, email, "wrong", "10.0.0.9")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %s: expected ErrInvalidCredentials, got %v", email, err)
		}
	}

	store.mu.Lock()
	pending := len(store.requests)
	store.mu.Unlock()
	if pending != 0 {
		t.Fatalf("credential failures must not queue requests, found %d", pending)
	}
}

func TestMissingProfileIsHardFailure(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AttemptLogin(context.Background(), "ghost@example.com", "ghost-pass", "10.0.0.9")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AttemptLogin(context.Background(), "odd@example.com", "odd-pass", "10.0.0.9")
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestInactiveProfileRejectedAsInvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AttemptLogin(context.Background(), "former@example.com", "former-pass", "10.0.0.9")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for inactive profile, got %v", err)
	}
}

func TestRequestStatusRead(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.PutProfile(Profile{ID: "staff-1", Role: RoleStaff, Active: true})
	store.PutProfile(Profile{ID: "admin-1", Role: RoleAdmin, Active: true})
	authn := &stubAuthenticator{accounts: map[string]stubAccount{
		"desk@example.com": {password: "desk-pass", userID: "staff-1"},
	}}
	svc, err := NewService(store, authn, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	deferred, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	status, err := svc.RequestStatus(ctx, deferred.RequestID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != StatePending || status.ResolvedAt != nil {
		t.Fatalf("unexpected pending status: %+v", status)
	}

	if _, err := svc.ResolveRequest(ctx, deferred.RequestID, ActionDeny, adminProfile()); err != nil {
		t.Fatalf("deny: %v", err)
	}
	status, err = svc.RequestStatus(ctx, deferred.RequestID)
	if err != nil {
		t.Fatalf("status after deny: %v", err)
	}
	if status.Status != StateDenied {
		t.Fatalf("expected DENIED, got %s", status.Status)
	}
	if status.ResolvedAt == nil || !status.ResolvedAt.Equal(fixed) {
		t.Fatalf("expected resolved_at %v, got %v", fixed, status.ResolvedAt)
	}

	if _, err := svc.RequestStatus(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSeparateAddressesQueueSeparately(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req1, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ResolveRequest(ctx, req1.RequestID, ActionApprove, adminProfile()); err != nil {
		t.Fatalf("approve: %v", err)
	}

	granted, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.5")
	if err != nil || granted.Outcome != OutcomeGranted {
		t.Fatalf("expected granted from approved address, got %v outcome=%s", err, granted.Outcome)
	}

	req2, err := svc.AttemptLogin(ctx, "desk@example.com", "desk-pass", "10.0.0.9")
	if err != nil {
		t.Fatalf("login from second address: %v", err)
	}
	if req2.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred from second address, got %s", req2.Outcome)
	}
	if req2.RequestID == req1.RequestID {
		t.Fatalf("distinct addresses must queue distinct requests")
	}
}
