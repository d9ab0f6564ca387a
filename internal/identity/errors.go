package identity

import "errors"

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrUnauthorized = errors.New("identity: unauthorized")
	ErrInvalidToken = errors.New("identity: invalid token")
)
