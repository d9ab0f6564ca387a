package gate

import "errors"

var (
	ErrInvalidCredentials = errors.New("gate: invalid credentials")
	ErrProfileNotFound    = errors.New("gate: profile not found")
	ErrUnknownRole        = errors.New("gate: unknown role")
	ErrForbidden          = errors.New("gate: forbidden")
	ErrNotFound           = errors.New("gate: request not found")
	ErrAlreadyResolved    = errors.New("gate: request already resolved")
	ErrBadAction          = errors.New("gate: unsupported action")
	ErrStorageUnavailable = errors.New("gate: storage unavailable")
)
