package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped) so
// services can translate them into domain errors:
//   - ErrNotFound: record does not exist
//   - ErrAlreadyUsed: a unique key (email, challenge) is already taken or consumed
//   - ErrInvalidState: record is in the wrong state for the requested mutation
//   - ErrExpired: challenge or token has expired
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
