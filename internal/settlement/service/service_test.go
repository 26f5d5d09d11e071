package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"splitvault/internal/ledger"
	"splitvault/internal/platform/lock"
	pcmemory "splitvault/internal/platformconfig/store/memory"
	pcmodels "splitvault/internal/platformconfig/models"
	pcservice "splitvault/internal/platformconfig/service"
	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/split"
	escrowstore "splitvault/internal/settlement/store/escrow"
	poolstore "splitvault/internal/settlement/store/pool"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	audit "splitvault/pkg/platform/audit"
	"splitvault/pkg/platform/audit/publishers/compliance"
	auditmemory "splitvault/pkg/platform/audit/store/memory"
	"splitvault/pkg/requestcontext"
)

var (
	admin     = domain.DeriveIdentity([]byte("test"), []byte("admin"))
	treasury  = domain.DeriveIdentity([]byte("test"), []byte("treasury"))
	payer     = domain.DeriveIdentity([]byte("test"), []byte("payer"))
	alice     = domain.DeriveIdentity([]byte("test"), []byte("alice"))
	bob       = domain.DeriveIdentity([]byte("test"), []byte("bob"))
	authority = domain.DeriveIdentity([]byte("test"), []byte("authority"))
	stranger  = domain.DeriveIdentity([]byte("test"), []byte("stranger"))

	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	ledger  *ledger.InMemory
	escrows *escrowstore.InMemoryStore
	pools   *poolstore.InMemoryStore
	config  *pcservice.Service
	audit   *auditmemory.InMemoryStore
	service *Service
	tx      *lock.Local
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ledger = ledger.NewInMemory()
	s.escrows = escrowstore.NewInMemoryStore()
	s.pools = poolstore.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.tx = lock.NewLocal()

	cfg, err := pcservice.New(pcmemory.New(), s.tx)
	s.Require().NoError(err)
	s.config = cfg
	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(compliance.New(s.audit)),
	}, opts...)
	svc, err := New(s.escrows, s.pools, s.config, s.ledger, s.tx, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) initialize() {
	_, err := s.config.Initialize(s.ctx, admin, treasury)
	s.Require().NoError(err)
}

func (s *ServiceSuite) credit(account domain.Identity, amount uint64) {
	s.Require().NoError(s.ledger.Credit(s.ctx, account, amount))
}

func (s *ServiceSuite) balance(account domain.Identity) uint64 {
	b, err := s.ledger.Balance(s.ctx, account)
	s.Require().NoError(err)
	return b
}

func (s *ServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func plan() []split.Split {
	return []split.Split{
		{Recipient: alice, Share: 9000},
		{Recipient: bob, Share: 1000},
	}
}

// fundedEscrow initializes the platform and returns a funded escrow for
// total with a deadline one hour out.
func (s *ServiceSuite) fundedEscrow(total uint64) *models.Escrow {
	s.initialize()
	s.credit(payer, total)
	deadline := now.Add(time.Hour)
	e, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 1, Splits: plan(), TotalAmount: total, Deadline: &deadline})
	s.Require().NoError(err)
	e, err = s.service.Fund(s.ctx, payer, e.Address)
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) TestNewRequiresDependencies() {
	l := ledger.NewInMemory()
	_, err := New(nil, s.pools, s.config, l, s.tx)
	s.Error(err)
	_, err = New(s.escrows, nil, s.config, l, s.tx)
	s.Error(err)
	_, err = New(s.escrows, s.pools, nil, l, s.tx)
	s.Error(err)
	_, err = New(s.escrows, s.pools, s.config, nil, s.tx)
	s.Error(err)
	_, err = New(s.escrows, s.pools, s.config, l, nil)
	s.Error(err)
}

// =============================================================================
// Escrow creation
// =============================================================================
// Justification: creation is the only place pause, split validation and the
// deadline window are enforced; every later operation trusts the record.

func (s *ServiceSuite) TestCreate() {
	s.Run("requires an initialized platform", func() {
		_, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 1, Splits: plan(), TotalAmount: models.MinEscrowAmount})
		s.ErrorIs(err, pcmodels.ErrNotInitialized)
	})

	s.initialize()

	s.Run("derives the address from payer and id", func() {
		e, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 7, Splits: plan(), TotalAmount: models.MinEscrowAmount})
		s.Require().NoError(err)
		s.Equal(domain.EscrowAddress(payer, 7), e.Address)
		s.Equal(models.EscrowCreated, e.State)
		s.Equal([]string{string(audit.EventEscrowCreated)}, s.audit.Actions(e.Address.String()))
	})

	s.Run("same payer and id conflicts", func() {
		_, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 7, Splits: plan(), TotalAmount: models.MinEscrowAmount})
		s.ErrorIs(err, models.ErrEscrowExists)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("invalid splits keep the specific cause", func() {
		bad := []split.Split{{Recipient: alice, Share: 9000}}
		_, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 8, Splits: bad, TotalAmount: models.MinEscrowAmount})
		s.ErrorIs(err, split.ErrSharesDoNotSumToWhole)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("amount below minimum", func() {
		_, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 9, Splits: plan(), TotalAmount: models.MinEscrowAmount - 1})
		s.ErrorIs(err, models.ErrAmountTooSmall)
	})

	s.Run("deadline window", func() {
		past := now
		_, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 10, Splits: plan(), TotalAmount: models.MinEscrowAmount, Deadline: &past})
		s.ErrorIs(err, models.ErrDeadlineInPast)

		far := now.Add(models.MaxEscrowDuration + time.Second)
		_, err = s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 10, Splits: plan(), TotalAmount: models.MinEscrowAmount, Deadline: &far})
		s.ErrorIs(err, models.ErrDeadlineTooFar)
	})
}

func (s *ServiceSuite) TestPauseBlocksOnlyCreation() {
	e := s.fundedEscrow(models.MinEscrowAmount)
	paused := true
	_, err := s.config.Update(s.ctx, admin, pcservice.UpdateRequest{Paused: &paused})
	s.Require().NoError(err)

	_, err = s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 2, Splits: plan(), TotalAmount: models.MinEscrowAmount})
	s.ErrorIs(err, models.ErrPaused)
	s.True(dErrors.HasCode(err, dErrors.CodePaused))

	_, err = s.service.CreatePool(s.ctx, payer, CreatePoolRequest{ID: 2, ReleaseAuthority: authority, PaymentPerRelease: 1, MaxReleases: 1})
	s.ErrorIs(err, models.ErrPaused)

	_, err = s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.NoError(err, "existing escrows still settle while paused")
}

// =============================================================================
// Settlement
// =============================================================================
// Justification: settlement is the only path that splits value; the exact-sum
// rule and the one-shot transition are what recipients rely on.

func (s *ServiceSuite) TestSettle_PaysExactShares() {
	e := s.fundedEscrow(1_111_111)
	s.Equal(uint64(1_111_111), s.balance(e.Custody()))

	e, err := s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.Require().NoError(err)
	s.Equal(models.EscrowSettled, e.State)
	s.Require().NotNil(e.SettledAt)

	s.Equal(uint64(999_999), s.balance(alice))
	s.Equal(uint64(111_112), s.balance(bob))
	s.Zero(s.balance(e.Custody()))
	s.Equal([]string{
		string(audit.EventEscrowCreated),
		string(audit.EventEscrowFunded),
		string(audit.EventEscrowSettled),
	}, s.audit.Actions(e.Address.String()))
}

func (s *ServiceSuite) TestSettle_Twice() {
	e := s.fundedEscrow(models.MinEscrowAmount)
	_, err := s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.Require().NoError(err)

	_, err = s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.ErrorIs(err, models.ErrWrongState)
	s.Equal(uint64(900_000), s.balance(alice), "second settle moves nothing")
}

func (s *ServiceSuite) TestSettle_ConcurrentCallsSettleOnce() {
	e := s.fundedEscrow(models.MinEscrowAmount)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		wrong     int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Settle(s.at(now), payer, e.Address, []domain.Identity{alice, bob})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrWrongState):
				wrong++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, successes)
	s.Equal(7, wrong)
	s.Equal(uint64(900_000), s.balance(alice))
}

func (s *ServiceSuite) TestSettle_Destinations() {
	e := s.fundedEscrow(models.MinEscrowAmount)

	cases := []struct {
		name         string
		destinations []domain.Identity
		want         error
	}{
		{"short list", []domain.Identity{alice}, models.ErrRecipientMismatch},
		{"duplicate", []domain.Identity{alice, alice}, models.ErrDuplicateDestination},
		{"custody", []domain.Identity{alice, e.Custody()}, models.ErrDuplicateDestination},
		{"swapped", []domain.Identity{bob, alice}, models.ErrRecipientMismatch},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Settle(s.ctx, payer, e.Address, tc.destinations)
			s.ErrorIs(err, tc.want)
		})
	}

	got, err := s.service.Get(s.ctx, e.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowFunded, got.State)
	s.Equal(models.MinEscrowAmount, s.balance(e.Custody()))
}

func (s *ServiceSuite) TestSettle_OnlyPayer() {
	e := s.fundedEscrow(models.MinEscrowAmount)
	_, err := s.service.Settle(s.ctx, alice, e.Address, []domain.Identity{alice, bob})
	s.ErrorIs(err, models.ErrNotPayer)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Settle(s.ctx, domain.Identity{}, e.Address, []domain.Identity{alice, bob})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestApproveThenSettle() {
	e := s.fundedEscrow(models.MinEscrowAmount)
	e, err := s.service.Approve(s.ctx, payer, e.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowApproved, e.State)

	_, err = s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.NoError(err)
}

// =============================================================================
// Refund, cancel, freeze
// =============================================================================

func (s *ServiceSuite) TestRefund_DeadlineBoundary() {
	e := s.fundedEscrow(models.MinEscrowAmount)
	deadline := *e.Deadline

	_, err := s.service.Refund(s.at(deadline.Add(-time.Second)), stranger, e.Address)
	s.ErrorIs(err, models.ErrDeadlineNotReached)
	s.True(dErrors.HasCode(err, dErrors.CodeResourceExhausted))

	e, err = s.service.Refund(s.at(deadline), stranger, e.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowRefunded, e.State)
	s.Equal(models.MinEscrowAmount, s.balance(payer))
	s.Zero(s.balance(e.Custody()))
}

func (s *ServiceSuite) TestRefund_NoDeadline() {
	s.initialize()
	s.credit(payer, models.MinEscrowAmount)
	e, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 1, Splits: plan(), TotalAmount: models.MinEscrowAmount})
	s.Require().NoError(err)
	_, err = s.service.Fund(s.ctx, payer, e.Address)
	s.Require().NoError(err)

	_, err = s.service.Refund(s.at(now.Add(models.MaxEscrowDuration)), payer, e.Address)
	s.ErrorIs(err, models.ErrNoDeadline)
}

func (s *ServiceSuite) TestCancel() {
	s.initialize()
	e, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 1, Splits: plan(), TotalAmount: models.MinEscrowAmount})
	s.Require().NoError(err)

	_, err = s.service.Cancel(s.ctx, alice, e.Address)
	s.ErrorIs(err, models.ErrNotPayer)

	e, err = s.service.Cancel(s.ctx, payer, e.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowCancelled, e.State)

	_, err = s.service.Fund(s.ctx, payer, e.Address)
	s.ErrorIs(err, models.ErrWrongState)
}

func (s *ServiceSuite) TestFreeze() {
	e := s.fundedEscrow(models.MinEscrowAmount)

	_, err := s.service.Freeze(s.ctx, stranger, e.Address)
	s.ErrorIs(err, models.ErrNotParty)

	e, err = s.service.Freeze(s.ctx, bob, e.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowFrozen, e.State)
	s.Equal(models.MinEscrowAmount, s.balance(e.Custody()), "freeze moves nothing")

	_, err = s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.ErrorIs(err, models.ErrWrongState)
}

// =============================================================================
// Close
// =============================================================================
// Justification: close destroys the record, so it must never strand value.

func (s *ServiceSuite) TestClose() {
	s.service = s.newService(WithStorageDeposit(5_000))
	e := s.fundedEscrowWithDeposit()

	_, err := s.service.Close(s.ctx, payer, e.Address)
	s.ErrorIs(err, models.ErrWrongState, "funded escrows are not terminal")

	_, err = s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.Require().NoError(err)

	s.Run("returns the deposit and deletes the record", func() {
		closed, err := s.service.Close(s.ctx, payer, e.Address)
		s.Require().NoError(err)
		s.Equal(models.EscrowClosed, closed.State)
		s.Equal(uint64(5_000), s.balance(payer))
		s.Zero(s.balance(domain.DepositAccount(e.Address)))

		_, err = s.service.Get(s.ctx, e.Address)
		s.ErrorIs(err, models.ErrEscrowNotFound)
	})
}

func (s *ServiceSuite) TestClose_SweepsForeignDeposits() {
	s.service = s.newService(WithStorageDeposit(5_000))
	victim := s.fundedEscrowWithDeposit()
	_, err := s.service.Settle(s.ctx, payer, victim.Address, []domain.Identity{alice, bob})
	s.Require().NoError(err)

	// Another payer names the settled escrow's custody account as a recipient.
	s.credit(stranger, 5_000+models.MinEscrowAmount)
	other, err := s.service.Create(s.ctx, stranger, CreateEscrowRequest{
		ID:          1,
		Splits:      []split.Split{{Recipient: alice, Share: 9999}, {Recipient: victim.Custody(), Share: 1}},
		TotalAmount: models.MinEscrowAmount,
	})
	s.Require().NoError(err)
	_, err = s.service.Fund(s.ctx, stranger, other.Address)
	s.Require().NoError(err)
	_, err = s.service.Settle(s.ctx, stranger, other.Address, []domain.Identity{alice, victim.Custody()})
	s.Require().NoError(err)
	s.Equal(uint64(100), s.balance(victim.Custody()))

	closed, err := s.service.Close(s.ctx, payer, victim.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowClosed, closed.State)
	s.Equal(uint64(5_100), s.balance(payer), "deposit plus the swept residue")
	s.Zero(s.balance(victim.Custody()))
	s.Zero(s.balance(domain.DepositAccount(victim.Address)))

	events, err := s.audit.ListBySubject(s.ctx, victim.Address.String())
	s.Require().NoError(err)
	s.Require().NotEmpty(events)
	s.Equal(uint64(5_100), events[len(events)-1].Amount)
}

func (s *ServiceSuite) fundedEscrowWithDeposit() *models.Escrow {
	s.credit(payer, 5_000)
	e := s.fundedEscrow(models.MinEscrowAmount)
	s.Equal(uint64(5_000), s.balance(domain.DepositAccount(e.Address)))
	s.Zero(s.balance(payer))
	return e
}

func (s *ServiceSuite) TestFund_InsufficientFunds() {
	s.initialize()
	s.credit(payer, models.MinEscrowAmount-1)
	e, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: 1, Splits: plan(), TotalAmount: models.MinEscrowAmount})
	s.Require().NoError(err)

	_, err = s.service.Fund(s.ctx, payer, e.Address)
	s.ErrorIs(err, models.ErrInsufficientFunds)
	s.True(dErrors.HasCode(err, dErrors.CodeResourceExhausted))

	got, err := s.service.Get(s.ctx, e.Address)
	s.Require().NoError(err)
	s.Equal(models.EscrowCreated, got.State)
	s.Equal(models.MinEscrowAmount-1, s.balance(payer))
}

func (s *ServiceSuite) TestListByPayer() {
	s.initialize()
	for id := uint64(1); id <= 3; id++ {
		_, err := s.service.Create(s.ctx, payer, CreateEscrowRequest{ID: id, Splits: plan(), TotalAmount: models.MinEscrowAmount})
		s.Require().NoError(err)
	}
	list, err := s.service.ListByPayer(s.ctx, payer)
	s.Require().NoError(err)
	s.Len(list, 3)
}

// =============================================================================
// Pools
// =============================================================================
// Justification: pools pay out incrementally; the cap and the funding product
// bound what can ever leave custody.

func (s *ServiceSuite) createPool(payment uint64, max uint32, deadline *time.Time) *models.Pool {
	p, err := s.service.CreatePool(s.ctx, payer, CreatePoolRequest{
		ID:                1,
		ReleaseAuthority:  authority,
		PaymentPerRelease: payment,
		MaxReleases:       max,
		Deadline:          deadline,
	})
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) TestPool_ExhaustThenClose() {
	s.initialize()
	s.credit(payer, 1_000)
	p := s.createPool(100, 3, nil)

	p, err := s.service.FundPool(s.ctx, payer, p.Address, 0)
	s.Require().NoError(err)
	s.Equal(uint64(300), p.FundedAmount)
	s.Equal(models.PoolFunded, p.State)

	for i := 0; i < 3; i++ {
		p, err = s.service.PartialRelease(s.ctx, authority, p.Address, alice)
		s.Require().NoError(err)
	}
	s.Equal(models.PoolActive, p.State)
	s.Equal(uint32(3), p.ReleasedCount)

	_, err = s.service.PartialRelease(s.ctx, authority, p.Address, alice)
	s.ErrorIs(err, models.ErrMaxReleasesReached)
	s.True(dErrors.HasCode(err, dErrors.CodeResourceExhausted))

	closed, err := s.service.ClosePool(s.ctx, payer, p.Address)
	s.Require().NoError(err)
	s.Equal(models.PoolClosed, closed.State)

	s.Equal(uint64(300), s.balance(alice))
	s.Equal(uint64(700), s.balance(payer))
	s.Zero(s.balance(p.Custody()))

	_, err = s.service.GetPool(s.ctx, p.Address)
	s.ErrorIs(err, models.ErrPoolNotFound)
}

func (s *ServiceSuite) TestPool_CloseReturnsRemainder() {
	s.initialize()
	s.credit(payer, 1_000)
	p := s.createPool(100, 5, nil)
	_, err := s.service.FundPool(s.ctx, payer, p.Address, 0)
	s.Require().NoError(err)
	_, err = s.service.PartialRelease(s.ctx, authority, p.Address, bob)
	s.Require().NoError(err)

	_, err = s.service.ClosePool(s.ctx, authority, p.Address)
	s.ErrorIs(err, models.ErrNotPayer)

	_, err = s.service.ClosePool(s.ctx, payer, p.Address)
	s.Require().NoError(err)
	s.Equal(uint64(900), s.balance(payer))
	s.Equal(uint64(100), s.balance(bob))
}

func (s *ServiceSuite) TestPool_CloseSweepsCustody() {
	s.initialize()
	s.credit(payer, 1_000)
	p := s.createPool(100, 2, nil)
	_, err := s.service.FundPool(s.ctx, payer, p.Address, 0)
	s.Require().NoError(err)

	s.credit(stranger, 7)
	s.Require().NoError(s.ledger.Transfer(s.ctx, stranger, p.Custody(), 7))

	_, err = s.service.ClosePool(s.ctx, payer, p.Address)
	s.Require().NoError(err)
	s.Equal(uint64(1_007), s.balance(payer))
	s.Zero(s.balance(p.Custody()))
}

func (s *ServiceSuite) TestPool_TreasuryFee() {
	s.initialize()
	s.credit(payer, 10_000)
	p, err := s.service.CreatePool(s.ctx, payer, CreatePoolRequest{
		ID:                1,
		ReleaseAuthority:  authority,
		PaymentPerRelease: 1_000,
		MaxReleases:       4,
		FeeBPS:            250,
	})
	s.Require().NoError(err)
	s.Equal(uint64(25), p.FeePerRelease())
	s.Equal(uint64(4_100), p.RequiredFunding())

	_, err = s.service.FundPool(s.ctx, payer, p.Address, 4_000)
	s.ErrorIs(err, models.ErrUnderfunded, "funding covers the fees too")

	p, err = s.service.FundPool(s.ctx, payer, p.Address, 0)
	s.Require().NoError(err)
	s.Equal(uint64(4_100), s.balance(p.Custody()))

	p, err = s.service.PartialRelease(s.ctx, authority, p.Address, alice)
	s.Require().NoError(err)
	s.Equal(uint64(1_000), s.balance(alice))
	s.Equal(uint64(25), s.balance(treasury))
	s.Equal(uint64(1_025), p.TotalReleased)
	s.Equal(uint64(3_075), p.Remaining())
	s.Equal(p.Remaining(), s.balance(p.Custody()))

	for i := 0; i < 3; i++ {
		p, err = s.service.PartialRelease(s.ctx, authority, p.Address, bob)
		s.Require().NoError(err)
	}
	s.Zero(p.Remaining())
	s.Zero(s.balance(p.Custody()))
	s.Equal(uint64(100), s.balance(treasury))
	s.Equal(uint64(3_000), s.balance(bob))

	s.Run("the treasury in force at release time is paid", func() {
		s.credit(payer, 2_050)
		q, err := s.service.CreatePool(s.ctx, payer, CreatePoolRequest{
			ID: 2, ReleaseAuthority: authority, PaymentPerRelease: 1_000, MaxReleases: 2, FeeBPS: 250,
		})
		s.Require().NoError(err)
		_, err = s.service.FundPool(s.ctx, payer, q.Address, 0)
		s.Require().NoError(err)

		_, err = s.config.Update(s.ctx, admin, pcservice.UpdateRequest{Treasury: &stranger})
		s.Require().NoError(err)
		_, err = s.service.PartialRelease(s.ctx, authority, q.Address, alice)
		s.Require().NoError(err)
		s.Equal(uint64(25), s.balance(stranger))
	})
}

func (s *ServiceSuite) TestPool_FundingPolicy() {
	s.initialize()
	s.credit(payer, 10_000)
	p := s.createPool(100, 3, nil)

	_, err := s.service.FundPool(s.ctx, payer, p.Address, 299)
	s.ErrorIs(err, models.ErrUnderfunded)

	_, err = s.service.FundPool(s.ctx, payer, p.Address, 301)
	s.ErrorIs(err, models.ErrOverfunded)

	s.service = s.newService(WithPoolOverfunding(true))
	p, err = s.service.FundPool(s.ctx, payer, p.Address, 301)
	s.Require().NoError(err)
	s.Equal(uint64(301), p.FundedAmount)
	s.Equal(uint64(301), s.balance(p.Custody()))
}

func (s *ServiceSuite) TestPool_ReleaseChecks() {
	s.initialize()
	s.credit(payer, 1_000)
	deadline := now.Add(time.Hour)
	p := s.createPool(100, 3, &deadline)

	_, err := s.service.PartialRelease(s.ctx, authority, p.Address, alice)
	s.ErrorIs(err, models.ErrWrongState, "unfunded pools release nothing")

	_, err = s.service.FundPool(s.ctx, payer, p.Address, 0)
	s.Require().NoError(err)

	_, err = s.service.PartialRelease(s.ctx, payer, p.Address, alice)
	s.ErrorIs(err, models.ErrNotReleaseAuthority)

	_, err = s.service.PartialRelease(s.ctx, authority, p.Address, p.Custody())
	s.ErrorIs(err, models.ErrInvalidDestination)

	_, err = s.service.PartialRelease(s.at(deadline.Add(time.Second)), authority, p.Address, alice)
	s.ErrorIs(err, models.ErrPoolDeadlinePassed)

	_, err = s.service.PartialRelease(s.at(deadline), authority, p.Address, alice)
	s.NoError(err, "the deadline instant itself is still open")
}

func (s *ServiceSuite) TestPool_CreateValidation() {
	s.initialize()
	_, err := s.service.CreatePool(s.ctx, payer, CreatePoolRequest{ID: 1, ReleaseAuthority: authority, PaymentPerRelease: 1, MaxReleases: models.MaxPoolReleases + 1})
	s.ErrorIs(err, models.ErrInvalidMaxReleases)

	_, err = s.service.CreatePool(s.ctx, payer, CreatePoolRequest{ID: 1, PaymentPerRelease: 1, MaxReleases: 1})
	s.ErrorIs(err, models.ErrInvalidReleaseAuthority)

	_, err = s.service.CreatePool(s.ctx, payer, CreatePoolRequest{ID: 1, ReleaseAuthority: authority, PaymentPerRelease: ^uint64(0), MaxReleases: 2})
	s.ErrorIs(err, models.ErrArithmeticOverflow)

	_, err = s.service.CreatePool(s.ctx, payer, CreatePoolRequest{ID: 1, ReleaseAuthority: authority, PaymentPerRelease: 1, MaxReleases: 1, FeeBPS: 10_001})
	s.ErrorIs(err, models.ErrInvalidFeeBPS)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.createPool(1, 1, nil)
	_, err = s.service.CreatePool(s.ctx, payer, CreatePoolRequest{ID: 1, ReleaseAuthority: authority, PaymentPerRelease: 1, MaxReleases: 1})
	s.ErrorIs(err, models.ErrPoolExists)
}

// =============================================================================
// Quote and balances
// =============================================================================

func (s *ServiceSuite) TestQuote() {
	amounts, err := Quote(1_111_111, plan())
	s.Require().NoError(err)
	s.Equal([]uint64{999_999, 111_112}, amounts)

	_, err = Quote(1_000, []split.Split{{Recipient: alice, Share: 10_001}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestBalances() {
	s.credit(alice, 42)
	got, err := s.service.Balances(s.ctx, []domain.Identity{alice, bob})
	s.Require().NoError(err)
	s.Equal(map[domain.Identity]uint64{alice: 42, bob: 0}, got)
}
