package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"dattas/internal/ledger"
	"dattas/internal/names/metrics"
	"dattas/internal/names/models"
	"dattas/internal/names/store"
	"dattas/internal/origin"
	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
	audit "dattas/pkg/platform/audit"
	auditmemory "dattas/pkg/platform/audit/store/memory"
)

// slowRegistry widens the window between reading and writing a record so
// concurrent transitions overlap.
type slowRegistry struct {
	*store.InMemoryStore
	delay time.Duration
}

func (r slowRegistry) Get(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	time.Sleep(r.delay)
	return r.InMemoryStore.Get(ctx, account)
}

type heldLocks struct {
	release []func()
}

type heldLocksKey struct{}

// xactLocks behaves like a READ COMMITTED database: transactions run
// concurrently and account locks are held until the transaction ends.
type xactLocks struct {
	mu       sync.Mutex
	accounts map[id.AccountID]*sync.Mutex
	fail     error
	locked   []id.AccountID
}

func newXactLocks() *xactLocks {
	return &xactLocks{accounts: make(map[id.AccountID]*sync.Mutex)}
}

func (x *xactLocks) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	held := &heldLocks{}
	defer func() {
		for _, release := range held.release {
			release()
		}
	}()
	return fn(context.WithValue(ctx, heldLocksKey{}, held))
}

func (x *xactLocks) Lock(ctx context.Context, account id.AccountID) error {
	x.mu.Lock()
	if x.fail != nil {
		x.mu.Unlock()
		return x.fail
	}
	m, ok := x.accounts[account]
	if !ok {
		m = &sync.Mutex{}
		x.accounts[account] = m
	}
	x.locked = append(x.locked, account)
	x.mu.Unlock()

	m.Lock()
	held := ctx.Value(heldLocksKey{}).(*heldLocks)
	held.release = append(held.release, m.Unlock)
	return nil
}

type LockSuite struct {
	suite.Suite
	ctx     context.Context
	ledger  *ledger.InMemoryLedger
	locks   *xactLocks
	service *Service
	alice   id.AccountID
	forcer  id.AccountID
}

func TestLockSuite(t *testing.T) {
	suite.Run(t, new(LockSuite))
}

func (s *LockSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledger.NewInMemoryLedger()
	s.locks = newXactLocks()
	s.alice, s.forcer = id.NewAccountID(), id.NewAccountID()
	s.Require().NoError(s.ledger.Deposit(s.ctx, s.alice, 100))

	registry := slowRegistry{InMemoryStore: store.NewInMemoryStore(), delay: 20 * time.Millisecond}
	svc, err := New(registry, s.ledger,
		origin.NewGate(s.ledger, origin.WithForceAccount(s.forcer)),
		audit.NewPublisher(auditmemory.NewInMemoryStore()),
		testParams,
		WithTx(s.locks),
		WithLocker(s.locks),
		WithMetrics(metrics.NewWithRegistry(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *LockSuite) TestConcurrentFirstSetNameReservesOnce() {
	var wg sync.WaitGroup
	events := make([]audit.AuditEvent, 2)
	errs := make([]error, 2)
	for i, name := range []string{"gav", "gavin"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events[i], errs[i] = s.service.SetName(s.ctx, origin.Signed(s.alice), models.Name(name))
		}()
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.ElementsMatch([]audit.AuditEvent{audit.EventNameSet, audit.EventNameChanged}, events)

	check, err := s.service.CheckDeposit(s.ctx, s.alice)
	s.Require().NoError(err)
	s.True(check.Consistent)
	s.Equal(testParams.ReservationFee, check.Reserved)
	s.Equal(testParams.ReservationFee, check.Recorded)
}

func (s *LockSuite) TestEveryTransitionLocksItsAccount() {
	_, err := s.service.SetName(s.ctx, origin.Signed(s.alice), models.Name("gav"))
	s.Require().NoError(err)
	_, err = s.service.ClearName(s.ctx, origin.Signed(s.alice))
	s.Require().NoError(err)
	s.Require().NoError(s.service.ForceName(s.ctx, origin.Root(), s.alice.String(), models.Name("x")))
	_, err = s.service.KillName(s.ctx, origin.Root(), s.alice.String())
	s.Require().NoError(err)

	s.Equal([]id.AccountID{s.alice, s.alice, s.alice, s.alice}, s.locks.locked)
}

func (s *LockSuite) TestLockFailureAbortsTransition() {
	s.locks.fail = errors.New("lock timeout")

	_, err := s.service.SetName(s.ctx, origin.Signed(s.alice), models.Name("gav"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	acc, err := s.ledger.Account(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Zero(acc.Reserved)
	record, err := s.service.Query(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Nil(record)
}
