package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidPrice        = errors.New("price must be greater than 1.0")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrWagerRejected       = errors.New("wager rejected by exchange")
	ErrFixtureResolution   = errors.New("cannot resolve participant or price")
	ErrInvalidTransition   = errors.New("invalid wager state transition")
	ErrLockHeld            = errors.New("lock already held")
)
