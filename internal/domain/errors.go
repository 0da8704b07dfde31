package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidProposal   = errors.New("invalid proposal")
	ErrVersionConflict   = errors.New("setup version conflict")
	ErrInvalidTransition = errors.New("invalid setup transition")
	ErrStaleObservation  = errors.New("stale price observation")
	ErrInconsistentSetup = errors.New("inconsistent setup state")
	ErrQuotaExceeded     = errors.New("quota exceeded")
)
