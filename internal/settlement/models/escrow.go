package models

import (
	"time"

	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
)

const (
	// MinEscrowAmount is the smallest total an escrow may custody.
	MinEscrowAmount uint64 = 1_000_000
	// MaxEscrowDuration bounds how far in the future a deadline may be.
	MaxEscrowDuration = 365 * 24 * time.Hour
	// SchemaVersion is stamped on every record this code writes.
	SchemaVersion = 2
)

// EscrowState is a position in the escrow lifecycle.
type EscrowState string

const (
	EscrowCreated       EscrowState = "created"
	EscrowFunded        EscrowState = "funded"
	EscrowApproved      EscrowState = "approved"
	EscrowSettled       EscrowState = "settled"
	EscrowCancelled     EscrowState = "cancelled"
	EscrowRefunded      EscrowState = "refunded"
	EscrowFrozen        EscrowState = "frozen"
	EscrowAdminSettled  EscrowState = "admin_settled"
	EscrowAdminRefunded EscrowState = "admin_refunded"
	EscrowClosed        EscrowState = "closed"
)

var escrowTransitions = map[EscrowState][]EscrowState{
	EscrowCreated:       {EscrowFunded, EscrowCancelled},
	EscrowFunded:        {EscrowApproved, EscrowSettled, EscrowRefunded, EscrowFrozen},
	EscrowApproved:      {EscrowSettled, EscrowFrozen},
	EscrowFrozen:        {EscrowAdminSettled, EscrowAdminRefunded},
	EscrowSettled:       {EscrowClosed},
	EscrowCancelled:     {EscrowClosed},
	EscrowRefunded:      {EscrowClosed},
	EscrowAdminSettled:  {EscrowClosed},
	EscrowAdminRefunded: {EscrowClosed},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s EscrowState) CanTransitionTo(next EscrowState) bool {
	for _, allowed := range escrowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the escrow may only be closed.
func (s EscrowState) IsTerminal() bool {
	return s.CanTransitionTo(EscrowClosed)
}

func (s EscrowState) IsValid() bool {
	_, ok := escrowTransitions[s]
	return ok || s == EscrowClosed
}

// Escrow is the aggregate root for one custodied payment.
//
// Invariants:
//   - Address == domain.EscrowAddress(Payer, ID)
//   - Splits passed split.Validate at creation and are never mutated
//   - TotalAmount >= MinEscrowAmount
//   - Deadline, when set, was in (CreatedAt, CreatedAt+MaxEscrowDuration]
//   - State only moves along escrowTransitions
//   - Funds leave custody exactly once: on settle, refund, or an admin resolution
//
// Each Can* method checks authorization first, then state, and never mutates.
// The matching Apply* method performs the transition and must only be called
// after Can* succeeded and the ledger movement (if any) committed.
type Escrow struct {
	Address        domain.Identity `json:"address"`
	ID             uint64          `json:"id"`
	Payer          domain.Identity `json:"payer"`
	Splits         []split.Split   `json:"splits"`
	TotalAmount    uint64          `json:"total_amount"`
	State          EscrowState     `json:"state"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
	StorageDeposit uint64          `json:"storage_deposit"`
	SchemaVersion  int             `json:"schema_version"`

	CreatedAt  time.Time  `json:"created_at"`
	FundedAt   *time.Time `json:"funded_at,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	FrozenAt   *time.Time `json:"frozen_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// NewEscrow validates creation parameters and returns a record in Created.
// The pause check belongs to the caller, which owns platform configuration.
func NewEscrow(payer domain.Identity, id uint64, splits []split.Split, total uint64, deadline *time.Time, storageDeposit uint64, now time.Time) (*Escrow, error) {
	if payer.IsZero() {
		return nil, ErrMissingCaller
	}
	if err := split.Validate(splits); err != nil {
		return nil, InvalidSplits(err)
	}
	if total < MinEscrowAmount {
		return nil, ErrAmountTooSmall
	}
	deadline = truncateDeadline(deadline)
	if err := ValidateDeadline(deadline, now); err != nil {
		return nil, err
	}
	plan := make([]split.Split, len(splits))
	copy(plan, splits)
	return &Escrow{
		Address:        domain.EscrowAddress(payer, id),
		ID:             id,
		Payer:          payer,
		Splits:         plan,
		TotalAmount:    total,
		State:          EscrowCreated,
		Deadline:       deadline,
		StorageDeposit: storageDeposit,
		SchemaVersion:  SchemaVersion,
		CreatedAt:      now,
	}, nil
}

// ValidateDeadline enforces now < deadline <= now + MaxEscrowDuration.
// A nil deadline is valid.
func ValidateDeadline(deadline *time.Time, now time.Time) error {
	if deadline == nil {
		return nil
	}
	if !deadline.After(now) {
		return ErrDeadlineInPast
	}
	if deadline.After(now.Add(MaxEscrowDuration)) {
		return ErrDeadlineTooFar
	}
	return nil
}

// Custody is the ledger account holding this escrow's funds.
func (e *Escrow) Custody() domain.Identity {
	return domain.CustodyAccount(e.Address)
}

// IsRecipient reports whether id appears in the split plan.
func (e *Escrow) IsRecipient(id domain.Identity) bool {
	for _, s := range e.Splits {
		if s.Recipient == id {
			return true
		}
	}
	return false
}

func (e *Escrow) requirePayer(caller domain.Identity) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if caller != e.Payer {
		return ErrNotPayer
	}
	return nil
}

func (e *Escrow) requireTransition(next EscrowState) error {
	if !e.State.CanTransitionTo(next) {
		return ErrWrongState
	}
	return nil
}

// CanFund checks that caller may deposit the total into custody.
func (e *Escrow) CanFund(caller domain.Identity) error {
	if err := e.requirePayer(caller); err != nil {
		return err
	}
	return e.requireTransition(EscrowFunded)
}

func (e *Escrow) ApplyFund(now time.Time) {
	e.State = EscrowFunded
	e.FundedAt = &now
}

// CanApprove checks that caller may signal satisfaction before settlement.
func (e *Escrow) CanApprove(caller domain.Identity) error {
	if err := e.requirePayer(caller); err != nil {
		return err
	}
	return e.requireTransition(EscrowApproved)
}

func (e *Escrow) ApplyApprove(now time.Time) {
	e.State = EscrowApproved
	e.ApprovedAt = &now
}

// CanSettle checks caller, state and the caller-supplied destination list.
func (e *Escrow) CanSettle(caller domain.Identity, destinations []domain.Identity) error {
	if err := e.requirePayer(caller); err != nil {
		return err
	}
	if err := e.requireTransition(EscrowSettled); err != nil {
		return err
	}
	return CheckDestinations(e.Splits, destinations, e.Custody())
}

func (e *Escrow) ApplySettle(now time.Time) {
	e.State = EscrowSettled
	e.SettledAt = &now
}

// CanRefund checks the deadline. Any caller may trigger a refund; funds only
// ever return to the payer.
func (e *Escrow) CanRefund(now time.Time) error {
	if err := e.requireTransition(EscrowRefunded); err != nil {
		return err
	}
	if e.Deadline == nil {
		return ErrNoDeadline
	}
	if now.Before(*e.Deadline) {
		return ErrDeadlineNotReached
	}
	return nil
}

func (e *Escrow) ApplyRefund(now time.Time) {
	e.State = EscrowRefunded
	e.RefundedAt = &now
}

// CanCancel checks that caller may abandon an unfunded escrow.
func (e *Escrow) CanCancel(caller domain.Identity) error {
	if err := e.requirePayer(caller); err != nil {
		return err
	}
	return e.requireTransition(EscrowCancelled)
}

func (e *Escrow) ApplyCancel() {
	e.State = EscrowCancelled
}

// CanFreeze checks that caller is the payer, the admin, or a recipient.
func (e *Escrow) CanFreeze(caller, admin domain.Identity) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if caller != e.Payer && caller != admin && !e.IsRecipient(caller) {
		return ErrNotParty
	}
	return e.requireTransition(EscrowFrozen)
}

func (e *Escrow) ApplyFreeze(now time.Time) {
	e.State = EscrowFrozen
	e.FrozenAt = &now
}

// CanResolve checks that the escrow is awaiting an admin decision.
// Admin authorization is enforced by the dispute layer.
func (e *Escrow) CanResolve() error {
	if e.State != EscrowFrozen {
		return ErrWrongState
	}
	return nil
}

func (e *Escrow) ApplyAdminSettle(now time.Time) {
	e.State = EscrowAdminSettled
	e.SettledAt = &now
}

func (e *Escrow) ApplyAdminRefund(now time.Time) {
	e.State = EscrowAdminRefunded
	e.RefundedAt = &now
}

// CanClose checks that caller may reclaim storage for a terminal escrow.
func (e *Escrow) CanClose(caller domain.Identity) error {
	if err := e.requirePayer(caller); err != nil {
		return err
	}
	return e.requireTransition(EscrowClosed)
}

func (e *Escrow) ApplyClose(now time.Time) {
	e.State = EscrowClosed
	e.ClosedAt = &now
}

// CheckDestinations verifies a caller-supplied destination list against a
// plan: same count, no duplicates, none equal to custody, and each entry
// equal to the recipient at the same index.
func CheckDestinations(plan []split.Split, destinations []domain.Identity, custody domain.Identity) error {
	if len(destinations) != len(plan) {
		return ErrRecipientMismatch
	}
	seen := make(map[domain.Identity]struct{}, len(destinations))
	for _, d := range destinations {
		if _, dup := seen[d]; dup || d == custody {
			return ErrDuplicateDestination
		}
		seen[d] = struct{}{}
	}
	for i, d := range destinations {
		if d != plan[i].Recipient {
			return ErrRecipientMismatch
		}
	}
	return nil
}

// truncateDeadline drops sub-microsecond precision so stored and in-memory
// deadlines compare the same at the boundary. It returns a copy.
func truncateDeadline(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Truncate(time.Microsecond)
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Clone returns a deep copy so stores never share pointers with callers.
func (e *Escrow) Clone() *Escrow {
	out := *e
	out.Splits = append([]split.Split(nil), e.Splits...)
	out.Deadline = copyTime(e.Deadline)
	out.FundedAt = copyTime(e.FundedAt)
	out.ApprovedAt = copyTime(e.ApprovedAt)
	out.SettledAt = copyTime(e.SettledAt)
	out.RefundedAt = copyTime(e.RefundedAt)
	out.FrozenAt = copyTime(e.FrozenAt)
	out.ClosedAt = copyTime(e.ClosedAt)
	return &out
}
