package domain

import "errors"

// Error kinds. Every venue error below matches exactly one of these through
// errors.Is, so callers can branch on the category without listing every
// sentinel.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrCollaborator  = errors.New("collaborator failure")
)

// venueError is a sentinel that also reports its kind.
type venueError struct {
	kind error
	msg  string
}

func (e *venueError) Error() string { return e.msg }

func (e *venueError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &venueError{kind: kind, msg: msg}
}

// Validation errors.
var (
	ErrInvalidPrice      = newError(ErrValidation, "invalid price")
	ErrInvalidStartPrice = newError(ErrValidation, "invalid start price")
	ErrInvalidDuration   = newError(ErrValidation, "invalid duration")
	ErrInvalidAmount     = newError(ErrValidation, "invalid amount")
	ErrInvalidRate       = newError(ErrValidation, "invalid fee rate")
	ErrInvalidTier       = newError(ErrValidation, "invalid tier")
	ErrInvalidToken      = newError(ErrValidation, "invalid token")
	ErrInvalidAddress    = newError(ErrValidation, "invalid address")
	ErrOverflow          = newError(ErrValidation, "arithmetic overflow")
)

// Authorization errors.
var (
	ErrNotOwner     = newError(ErrAuthorization, "caller is not the asset owner")
	ErrNotApproved  = newError(ErrAuthorization, "venue is not approved for the asset")
	ErrNotSeller    = newError(ErrAuthorization, "caller is not the seller")
	ErrUnauthorized = newError(ErrAuthorization, "unauthorized")
)

// State errors.
var (
	ErrNotListed             = newError(ErrState, "asset is not listed")
	ErrAlreadyListed         = newError(ErrState, "asset is already listed")
	ErrAuctionExists         = newError(ErrState, "auction already active")
	ErrAuctionNotActive      = newError(ErrState, "auction not active")
	ErrAuctionEnded          = newError(ErrState, "auction already ended")
	ErrAuctionNotEnded       = newError(ErrState, "auction not yet ended")
	ErrBidTooLow             = newError(ErrState, "bid too low")
	ErrInsufficientLiquidity = newError(ErrState, "insufficient liquidity")
	ErrSlippage              = newError(ErrState, "output below minimum")
	ErrWindowCompacted       = newError(ErrState, "volume window starts before retained history")
	ErrReentrantCall         = newError(ErrState, "reentrant call on guarded resource")
	ErrLockHeld              = newError(ErrState, "lock already held")
	ErrNotFound              = newError(ErrState, "not found")
	ErrSeqTaken              = newError(ErrState, "trade sequence already taken")
)

// Collaborator failures.
var (
	ErrInsufficientBalance   = newError(ErrCollaborator, "insufficient balance")
	ErrInsufficientAllowance = newError(ErrCollaborator, "insufficient allowance")
	ErrNotCustodian          = newError(ErrCollaborator, "sender is not the current custodian")
)
