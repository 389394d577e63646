//go:build integration

package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"dattas/internal/ledger"
	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
	txcontext "dattas/pkg/platform/tx"
	"dattas/pkg/testutil/containers"
)

// durableLedger is what both durable ledgers offer.
type durableLedger interface {
	ledger.Depositor
	Exists(ctx context.Context, account id.AccountID) (bool, error)
	Account(ctx context.Context, account id.AccountID) (ledger.Account, error)
	Reserve(ctx context.Context, account id.AccountID, amount id.Balance) error
	Unreserve(ctx context.Context, account id.AccountID, amount id.Balance) (id.Balance, error)
	SlashReserved(ctx context.Context, account id.AccountID, amount id.Balance) (ledger.Imbalance, id.Balance, error)
}

// ledgerContract runs the same checks against every durable ledger.
type ledgerContract struct {
	suite.Suite
	ledger durableLedger
	reset  func(ctx context.Context) error
}

func (s *ledgerContract) SetupTest() {
	s.Require().NoError(s.reset(context.Background()))
}

func (s *ledgerContract) TestReserveUnreserveSlash() {
	ctx := context.Background()
	alice := id.NewAccountID()
	s.Require().NoError(s.ledger.Deposit(ctx, alice, 100))
	s.Require().NoError(s.ledger.Deposit(ctx, alice, 20))

	s.Require().NoError(s.ledger.Reserve(ctx, alice, 30))
	acc, err := s.ledger.Account(ctx, alice)
	s.Require().NoError(err)
	s.Equal(id.Balance(90), acc.Free)
	s.Equal(id.Balance(30), acc.Reserved)

	err = s.ledger.Reserve(ctx, alice, 91)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

	remainder, err := s.ledger.Unreserve(ctx, alice, 10)
	s.Require().NoError(err)
	s.Zero(remainder)

	imbalance, remainder, err := s.ledger.SlashReserved(ctx, alice, 25)
	s.Require().NoError(err)
	s.Equal(id.Balance(20), imbalance.Amount)
	s.Equal(id.Balance(5), remainder)

	acc, err = s.ledger.Account(ctx, alice)
	s.Require().NoError(err)
	s.Equal(id.Balance(100), acc.Free)
	s.Zero(acc.Reserved)
}

func (s *ledgerContract) TestUnknownAccount() {
	ctx := context.Background()
	ghost := id.NewAccountID()

	ok, err := s.ledger.Exists(ctx, ghost)
	s.Require().NoError(err)
	s.False(ok)

	remainder, err := s.ledger.Unreserve(ctx, ghost, 4)
	s.Require().NoError(err)
	s.Equal(id.Balance(4), remainder)

	err = s.ledger.Reserve(ctx, ghost, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
}

func (s *ledgerContract) TestZeroReservationCreatesAccount() {
	ctx := context.Background()
	stranger := id.NewAccountID()

	s.Require().NoError(s.ledger.Reserve(ctx, stranger, 0))

	ok, err := s.ledger.Exists(ctx, stranger)
	s.Require().NoError(err)
	s.True(ok)
}

type PostgresLedgerSuite struct {
	ledgerContract
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	pg := containers.GetManager().GetPostgres(s.T())
	s.ledger = ledger.NewPostgresLedger(pg.DB)
	s.reset = pg.Truncate
}

type RedisLedgerSuite struct {
	ledgerContract
	runner *txcontext.RedisRunner
}

func TestRedisLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLedgerSuite))
}

func (s *RedisLedgerSuite) SetupSuite() {
	rc := containers.GetManager().GetRedis(s.T())
	s.ledger = ledger.NewRedisLedger(rc.Client)
	s.runner = txcontext.NewRedisRunner(rc.Client)
	s.reset = rc.FlushAll
}

func (s *RedisLedgerSuite) TestAbortedTransactionLeavesBalancesUntouched() {
	ctx := context.Background()
	alice := id.NewAccountID()
	s.Require().NoError(s.ledger.Deposit(ctx, alice, 50))

	abort := errors.New("abort")
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		s.Require().NoError(s.ledger.Reserve(ctx, alice, 20))
		s.Require().NoError(s.ledger.Deposit(ctx, alice, 5))
		return abort
	})
	s.Require().ErrorIs(err, abort)

	acc, err := s.ledger.Account(ctx, alice)
	s.Require().NoError(err)
	s.Equal(id.Balance(50), acc.Free)
	s.Zero(acc.Reserved)
}

func (s *RedisLedgerSuite) TestCommittedTransactionAppliesAllWrites() {
	ctx := context.Background()
	alice, treasury := id.NewAccountID(), id.NewAccountID()
	s.Require().NoError(s.ledger.Deposit(ctx, alice, 50))
	s.Require().NoError(s.ledger.Reserve(ctx, alice, 20))

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		imbalance, _, err := s.ledger.SlashReserved(ctx, alice, 20)
		if err != nil {
			return err
		}
		return s.ledger.Deposit(ctx, treasury, imbalance.Amount)
	})
	s.Require().NoError(err)

	acc, err := s.ledger.Account(ctx, alice)
	s.Require().NoError(err)
	s.Zero(acc.Reserved)
	got, err := s.ledger.Account(ctx, treasury)
	s.Require().NoError(err)
	s.Equal(id.Balance(20), got.Free)
}
