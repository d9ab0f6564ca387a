package gate

import "time"

// Role is the closed set of staff roles known to the gate.
type Role string

const (
	// RoleAdmin may log in from any address and resolve access requests.
	RoleAdmin Role = "admin"
	// RoleStaff may only log in from an address present in the allowed list.
	RoleStaff Role = "staff"
)

// Known reports whether the role is one of the two supported values. Any
// other stored value rejects the login instead of silently passing.
func (r Role) Known() bool {
	return r == RoleAdmin || r == RoleStaff
}

// Profile is the role-bearing record attached to every staff account.
// Profiles are provisioned by an operator and read-only here.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AllowedAddress is a network address cleared for staff login. Rows are
// immutable once created; the address itself is the primary key.
type AllowedAddress struct {
	Address string    `json:"address"`
	Note    string    `json:"note,omitempty"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// RequestState is the lifecycle state of an access request.
type RequestState string

const (
	StatePending  RequestState = "PENDING"
	StateApproved RequestState = "APPROVED"
	StateDenied   RequestState = "DENIED"
)

// AccessRequest records a staff login attempt from an unrecognized address.
// A request is mutated exactly once, PENDING -> APPROVED or DENIED.
type AccessRequest struct {
	ID          string       `json:"id"`
	ProfileID   string       `json:"profile_id"`
	Address     string       `json:"address"`
	Status      RequestState `json:"status"`
	RequestedAt time.Time    `json:"requested_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy  string       `json:"resolved_by,omitempty"`
}

// Action is a resolver decision on a pending request.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionDeny    Action = "DENY"
)

// Known reports whether the action is one of the two supported values.
func (a Action) Known() bool {
	return a == ActionApprove || a == ActionDeny
}

// AuthUser is the identity returned by the external credential check.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the token pair minted by the identity collaborator on a
// successful credential check.
type Session struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginOutcome distinguishes the two non-error results of a login attempt.
type LoginOutcome string

const (
	OutcomeGranted  LoginOutcome = "granted"
	OutcomeDeferred LoginOutcome = "deferred"
)

// LoginResult is the outcome of AttemptLogin. User, Profile and Session are
// populated only when Outcome is granted; a deferred result carries the
// request id and nothing else.
type LoginResult struct {
	Outcome   LoginOutcome
	User      AuthUser
	Profile   *Profile
	Session   Session
	RequestID string
}

// Resolution is the outcome of ResolveRequest.
type Resolution struct {
	RequestID  string
	Action     Action
	ResolvedAt time.Time
}

// RequestStatus is the polling view of a request: its state plus the
// resolution timestamp once terminal.
type RequestStatus struct {
	Status     RequestState `json:"status"`
	ResolvedAt *time.Time   `json:"resolved_at"`
}
