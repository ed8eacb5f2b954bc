package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services and the HTTP layer can classify failures
// without knowing which package raised them:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: a uniqueness rule rejected the write
// - ErrExpired: challenge or window has expired
// - ErrAlreadyUsed: resource already consumed (retracted mapping)
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
