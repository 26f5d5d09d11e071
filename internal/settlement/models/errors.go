package models

import (
	dErrors "splitvault/pkg/domain-errors"
)

// Settlement failures. Each carries the code of its error kind, so callers
// can match a specific failure with errors.Is or a kind with dErrors.HasCode.
var (
	// StateError
	ErrWrongState = dErrors.New(dErrors.CodeInvalidState, "record is not in the required state")

	// AuthorizationError
	ErrNotPayer            = dErrors.New(dErrors.CodeForbidden, "caller is not the payer")
	ErrNotAdmin            = dErrors.New(dErrors.CodeForbidden, "caller is not the platform admin")
	ErrNotParty            = dErrors.New(dErrors.CodeForbidden, "caller is not a party to the escrow")
	ErrNotReleaseAuthority = dErrors.New(dErrors.CodeForbidden, "caller is not the pool release authority")
	ErrMissingCaller       = dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")

	// PausedError
	ErrPaused = dErrors.New(dErrors.CodePaused, "platform is paused")

	// ValidationError
	ErrAmountTooSmall          = dErrors.New(dErrors.CodeValidation, "amount is below the minimum escrow amount")
	ErrDeadlineInPast          = dErrors.New(dErrors.CodeValidation, "deadline must be in the future")
	ErrDeadlineTooFar          = dErrors.New(dErrors.CodeValidation, "deadline exceeds the maximum escrow duration")
	ErrRecipientMismatch       = dErrors.New(dErrors.CodeValidation, "destinations do not match split recipients")
	ErrDuplicateDestination    = dErrors.New(dErrors.CodeValidation, "destination accounts must be distinct")
	ErrInvalidPaymentAmount    = dErrors.New(dErrors.CodeValidation, "payment per release must be positive")
	ErrInvalidMaxReleases      = dErrors.New(dErrors.CodeValidation, "max releases must be between 1 and 10000")
	ErrInvalidReleaseAuthority = dErrors.New(dErrors.CodeValidation, "release authority must not be the zero identity")
	ErrInvalidFeeBPS           = dErrors.New(dErrors.CodeValidation, "fee basis points must be between 0 and 10000")
	ErrUnderfunded             = dErrors.New(dErrors.CodeValidation, "funding amount is below payment per release times max releases")
	ErrOverfunded              = dErrors.New(dErrors.CodeValidation, "funding amount exceeds payment per release times max releases")
	ErrInvalidDestination      = dErrors.New(dErrors.CodeValidation, "destination must not be the zero identity or the custody account")

	// ArithmeticError
	ErrArithmeticOverflow = dErrors.New(dErrors.CodeArithmetic, "amount arithmetic overflowed")

	// ResourceError
	ErrDeadlineNotReached = dErrors.New(dErrors.CodeResourceExhausted, "deadline has not been reached")
	ErrNoDeadline         = dErrors.New(dErrors.CodeResourceExhausted, "escrow has no deadline")
	ErrInsufficientFunds  = dErrors.New(dErrors.CodeResourceExhausted, "insufficient funds")
	ErrMaxReleasesReached = dErrors.New(dErrors.CodeResourceExhausted, "pool release cap reached")
	ErrPoolDeadlinePassed = dErrors.New(dErrors.CodeResourceExhausted, "pool deadline has passed")

	ErrEscrowNotFound = dErrors.New(dErrors.CodeNotFound, "escrow not found")
	ErrPoolNotFound   = dErrors.New(dErrors.CodeNotFound, "pool not found")
	ErrEscrowExists   = dErrors.New(dErrors.CodeConflict, "escrow already exists for this payer and id")
	ErrPoolExists     = dErrors.New(dErrors.CodeConflict, "pool already exists for this payer and id")
)

// InvalidSplits wraps a split validation failure as a ValidationError while
// keeping the specific cause matchable.
func InvalidSplits(err error) error {
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid splits")
}
