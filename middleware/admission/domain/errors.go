package domain

import "errors"

var (
	ErrInvalidPolicy    = errors.New("invalid rate limit policy")
	ErrInvalidRule      = errors.New("invalid endpoint rule")
	ErrTierTightens     = errors.New("tier override tightens base policy")
	ErrStoreUnavailable = errors.New("counter store unavailable")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
)
