package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"splitvault/internal/platform/lock"
	"splitvault/internal/settlement/models"
	"splitvault/internal/settlement/ports"
	"splitvault/internal/settlement/service/mocks"
	"splitvault/pkg/domain"
	dErrors "splitvault/pkg/domain-errors"
	"splitvault/pkg/requestcontext"
)

// =============================================================================
// Failure Ordering Test Suite
// =============================================================================
// Justification: the record store must never observe a transition whose
// ledger movement or audit event failed. The mocks fail on any unexpected
// store write, which is the assertion.

type FailureSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	escrows *mocks.MockEscrowStore
	pools   *mocks.MockPoolStore
	config  *mocks.MockConfigReader
	ledger  *mocks.MockLedger
	audit   *mocks.MockAuditPublisher
	service *Service
	ctx     context.Context
}

func TestFailureSuite(t *testing.T) {
	suite.Run(t, new(FailureSuite))
}

func (s *FailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.escrows = mocks.NewMockEscrowStore(s.ctrl)
	s.pools = mocks.NewMockPoolStore(s.ctrl)
	s.config = mocks.NewMockConfigReader(s.ctrl)
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.ctx = requestcontext.WithTime(context.Background(), now)

	svc, err := New(s.escrows, s.pools, s.config, s.ledger, lock.NewLocal(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.audit),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *FailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *FailureSuite) funded() *models.Escrow {
	deadline := now.Add(time.Hour)
	e, err := models.NewEscrow(payer, 1, plan(), 1_111_111, &deadline, 0, now)
	s.Require().NoError(err)
	e.ApplyFund(now)
	return e
}

func (s *FailureSuite) TestLedgerFailureLeavesRecordUnchanged() {
	e := s.funded()
	s.escrows.EXPECT().FindByAddress(gomock.Any(), e.Address).Return(e, nil)
	s.ledger.EXPECT().TransferBatch(gomock.Any(), e.Custody(), []ports.Payout{
		{To: alice, Amount: 999_999},
		{To: bob, Amount: 111_112},
	}).Return(ports.ErrInsufficientFunds)

	_, err := s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.ErrorIs(err, models.ErrInsufficientFunds)
	s.True(dErrors.HasCode(err, dErrors.CodeResourceExhausted))
}

func (s *FailureSuite) TestLedgerOverflowIsArithmetic() {
	e := s.funded()
	s.escrows.EXPECT().FindByAddress(gomock.Any(), e.Address).Return(e, nil)
	s.ledger.EXPECT().TransferBatch(gomock.Any(), e.Custody(), gomock.Any()).Return(ports.ErrBalanceOverflow)

	_, err := s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.ErrorIs(err, models.ErrArithmeticOverflow)
}

func (s *FailureSuite) TestAuditFailureSkipsStoreWrite() {
	e := s.funded()
	s.escrows.EXPECT().FindByAddress(gomock.Any(), e.Address).Return(e, nil)
	s.ledger.EXPECT().TransferBatch(gomock.Any(), e.Custody(), gomock.Any()).Return(nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable"))

	_, err := s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{alice, bob})
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *FailureSuite) TestStoreFailureIsInternal() {
	s.escrows.EXPECT().FindByAddress(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	_, err := s.service.Get(s.ctx, domain.EscrowAddress(payer, 1))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *FailureSuite) TestChecksRunBeforeLedger() {
	e := s.funded()
	s.escrows.EXPECT().FindByAddress(gomock.Any(), e.Address).Return(e, nil)

	_, err := s.service.Settle(s.ctx, payer, e.Address, []domain.Identity{bob, alice})
	s.ErrorIs(err, models.ErrRecipientMismatch)
}

func (s *FailureSuite) TestPoolReleaseLedgerFailure() {
	p, err := models.NewPool(payer, 1, authority, 100, 2, 0, nil, now)
	s.Require().NoError(err)
	p.ApplyFund(200, now)
	s.pools.EXPECT().FindByAddress(gomock.Any(), p.Address).Return(p, nil)
	s.ledger.EXPECT().TransferBatch(gomock.Any(), p.Custody(), []ports.Payout{{To: alice, Amount: 100}}).Return(ports.ErrInsufficientFunds)

	_, err = s.service.PartialRelease(s.ctx, authority, p.Address, alice)
	s.ErrorIs(err, models.ErrInsufficientFunds)
	s.Zero(p.ReleasedCount)
	s.Zero(p.TotalReleased)
}

func (s *FailureSuite) TestPoolFeeNeedsConfig() {
	p, err := models.NewPool(payer, 1, authority, 100, 2, 250, nil, now)
	s.Require().NoError(err)
	p.ApplyFund(p.RequiredFunding(), now)
	s.pools.EXPECT().FindByAddress(gomock.Any(), p.Address).Return(p, nil)
	s.config.EXPECT().Get(gomock.Any()).Return(nil, errors.New("config unavailable"))

	_, err = s.service.PartialRelease(s.ctx, authority, p.Address, alice)
	s.Error(err)
	s.Zero(p.ReleasedCount)
}
