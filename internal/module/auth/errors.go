package auth

import "errors"

// Auth module errors.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidTokenClaims = errors.New("invalid token claims")
	ErrSessionNotFound    = errors.New("session not found")
)
