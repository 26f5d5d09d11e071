package models

import (
	"math/bits"
	"time"

	"splitvault/internal/settlement/split"
	"splitvault/pkg/domain"
)

// MaxPoolReleases bounds max_releases on a pool.
const MaxPoolReleases = 10_000

// PoolState is a position in the pool lifecycle.
type PoolState string

const (
	PoolCreated PoolState = "created"
	PoolFunded  PoolState = "funded"
	PoolActive  PoolState = "active"
	PoolClosed  PoolState = "closed"
)

// Pool is the aggregate root for a balance paid out in fixed increments.
//
// Invariants:
//   - Address == domain.PoolAddress(Payer, ID)
//   - ReleaseAuthority is non-zero and independent of the platform admin
//   - 1 <= MaxReleases <= MaxPoolReleases, PaymentPerRelease > 0
//   - FeeBPS <= 10000; each release costs PaymentPerRelease plus its fee
//   - ReleasedCount <= MaxReleases
//   - TotalReleased == ReleasedCount * ReleaseCost() <= FundedAmount
//   - ReleasedCount and TotalReleased only increase
type Pool struct {
	Address           domain.Identity `json:"address"`
	ID                uint64          `json:"id"`
	Payer             domain.Identity `json:"payer"`
	ReleaseAuthority  domain.Identity `json:"release_authority"`
	PaymentPerRelease uint64          `json:"payment_per_release"`
	MaxReleases       uint32          `json:"max_releases"`
	FeeBPS            uint16          `json:"fee_bps"`
	ReleasedCount     uint32          `json:"released_count"`
	TotalReleased     uint64          `json:"total_released"`
	FundedAmount      uint64          `json:"funded_amount"`
	State             PoolState       `json:"state"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
	SchemaVersion     int             `json:"schema_version"`

	CreatedAt time.Time  `json:"created_at"`
	FundedAt  *time.Time `json:"funded_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewPool validates creation parameters and returns a pool in Created.
// feeBPS is the treasury fee charged on top of each release; 0 disables it.
func NewPool(payer domain.Identity, id uint64, releaseAuthority domain.Identity, paymentPerRelease uint64, maxReleases uint32, feeBPS uint16, deadline *time.Time, now time.Time) (*Pool, error) {
	if payer.IsZero() {
		return nil, ErrMissingCaller
	}
	if paymentPerRelease == 0 {
		return nil, ErrInvalidPaymentAmount
	}
	if maxReleases == 0 || maxReleases > MaxPoolReleases {
		return nil, ErrInvalidMaxReleases
	}
	if releaseAuthority.IsZero() {
		return nil, ErrInvalidReleaseAuthority
	}
	if feeBPS > split.BPSDenominator {
		return nil, ErrInvalidFeeBPS
	}
	deadline = truncateDeadline(deadline)
	if err := ValidateDeadline(deadline, now); err != nil {
		return nil, err
	}
	p := &Pool{
		Address:           domain.PoolAddress(payer, id),
		ID:                id,
		Payer:             payer,
		ReleaseAuthority:  releaseAuthority,
		PaymentPerRelease: paymentPerRelease,
		MaxReleases:       maxReleases,
		FeeBPS:            feeBPS,
		State:             PoolCreated,
		Deadline:          deadline,
		SchemaVersion:     SchemaVersion,
		CreatedAt:         now,
	}
	cost, err := p.ReleaseCost()
	if err != nil {
		return nil, err
	}
	if _, err := mul(cost, uint64(maxReleases)); err != nil {
		return nil, err
	}
	return p, nil
}

// Custody is the ledger account holding this pool's funds.
func (p *Pool) Custody() domain.Identity {
	return domain.CustodyAccount(p.Address)
}

// FeePerRelease is floor(PaymentPerRelease * FeeBPS / 10000), paid to the
// treasury with every release.
func (p *Pool) FeePerRelease() uint64 {
	if p.FeeBPS == 0 || p.FeeBPS > split.BPSDenominator {
		return 0
	}
	hi, lo := bits.Mul64(p.PaymentPerRelease, uint64(p.FeeBPS))
	q, _ := bits.Div64(hi, lo, split.BPSDenominator)
	return q
}

// ReleaseCost is what one release takes out of custody.
func (p *Pool) ReleaseCost() (uint64, error) {
	sum, carry := bits.Add64(p.PaymentPerRelease, p.FeePerRelease(), 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// RequiredFunding is ReleaseCost * MaxReleases; with no fee that is
// PaymentPerRelease * MaxReleases.
func (p *Pool) RequiredFunding() uint64 {
	cost, _ := p.ReleaseCost()
	v, _ := mul(cost, uint64(p.MaxReleases))
	return v
}

// Released is the total taken out of custody by releases so far, fees
// included.
func (p *Pool) Released() uint64 {
	return p.TotalReleased
}

// Remaining is the funded amount not yet released.
func (p *Pool) Remaining() uint64 {
	return p.FundedAmount - p.TotalReleased
}

// FundingAmount resolves the requested deposit against the pool's policy.
// Zero means exactly the required product.
func (p *Pool) FundingAmount(requested uint64, allowOverfunding bool) (uint64, error) {
	required := p.RequiredFunding()
	switch {
	case requested == 0:
		return required, nil
	case requested < required:
		return 0, ErrUnderfunded
	case requested > required && !allowOverfunding:
		return 0, ErrOverfunded
	default:
		return requested, nil
	}
}

// CanFund checks that caller may deposit into the pool.
func (p *Pool) CanFund(caller domain.Identity) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if caller != p.Payer {
		return ErrNotPayer
	}
	if p.State != PoolCreated {
		return ErrWrongState
	}
	return nil
}

func (p *Pool) ApplyFund(amount uint64, now time.Time) {
	p.FundedAmount = amount
	p.State = PoolFunded
	p.FundedAt = &now
}

// CanRelease checks authority, state, deadline, cap, and funding for the
// next release to destination.
func (p *Pool) CanRelease(caller, destination domain.Identity, now time.Time) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if caller != p.ReleaseAuthority {
		return ErrNotReleaseAuthority
	}
	if p.State != PoolFunded && p.State != PoolActive {
		return ErrWrongState
	}
	if destination.IsZero() || destination == p.Custody() {
		return ErrInvalidDestination
	}
	if p.Deadline != nil && now.After(*p.Deadline) {
		return ErrPoolDeadlinePassed
	}
	if p.ReleasedCount >= p.MaxReleases {
		return ErrMaxReleasesReached
	}
	cost, err := p.ReleaseCost()
	if err != nil {
		return err
	}
	next, carry := bits.Add64(p.TotalReleased, cost, 0)
	if carry != 0 {
		return ErrArithmeticOverflow
	}
	if next > p.FundedAmount {
		return ErrInsufficientFunds
	}
	return nil
}

// ApplyRelease records one release of ReleaseCost. CanRelease must have
// passed.
func (p *Pool) ApplyRelease() {
	cost, _ := p.ReleaseCost()
	p.ReleasedCount++
	p.TotalReleased += cost
	p.State = PoolActive
}

// CanClose checks that caller may close the pool. Any state is allowed.
func (p *Pool) CanClose(caller domain.Identity) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}
	if caller != p.Payer {
		return ErrNotPayer
	}
	if p.State == PoolClosed {
		return ErrWrongState
	}
	return nil
}

func (p *Pool) ApplyClose(now time.Time) {
	p.State = PoolClosed
	p.ClosedAt = &now
}

func mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (p *Pool) Clone() *Pool {
	out := *p
	out.Deadline = copyTime(p.Deadline)
	out.FundedAt = copyTime(p.FundedAt)
	out.ClosedAt = copyTime(p.ClosedAt)
	return &out
}
