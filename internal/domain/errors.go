package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")

	// Invalid input: rejected synchronously, never retried.
	ErrInvalidOption  = errors.New("option is not one of the market's options")
	ErrInvalidAmount  = errors.New("stake amount must be positive")
	ErrInvalidFeeRate = errors.New("fee rate must be in [0, 10000) basis points")
	ErrInvalidSide    = errors.New("round side must be up or down")

	// Precondition failed: safe to retry, often an idempotent no-op.
	ErrAlreadyResolved   = errors.New("market already resolved")
	ErrStakeNotActive    = errors.New("stake is no longer active")
	ErrMarketNotOpen     = errors.New("market is not open")
	ErrRoundNotOpen      = errors.New("round is not accepting stakes")
	ErrRoundNotDue       = errors.New("round has not reached its close time")
	ErrInsufficientFunds = errors.New("insufficient balance")

	// Terminal signal, not a failure: the winning option had no backers and
	// the market awaits manual resolution.
	ErrResolutionBlocked = errors.New("resolution blocked: awaiting manual resolution")

	// Price feed could not produce a snapshot within the staleness window.
	ErrPriceUnavailable = errors.New("reference price unavailable")
)
