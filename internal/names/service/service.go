// Package service implements the name registry's state transitions. Each
// mutating operation authorizes its origin, validates its input and then runs
// its registry, ledger and event effects inside one transaction, so a failed
// call leaves no trace.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dattas/internal/ledger"
	"dattas/internal/names/metrics"
	"dattas/internal/names/models"
	"dattas/internal/names/ports"
	"dattas/internal/origin"
	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
	audit "dattas/pkg/platform/audit"
	"dattas/pkg/platform/sentinel"
	"dattas/pkg/requestcontext"
)

// Type aliases for shared interfaces.
type (
	Registry         = ports.Registry
	Ledger           = ports.Ledger
	ImbalanceHandler = ports.ImbalanceHandler
	Gate             = ports.Gate
	EventSink        = ports.EventSink
	Tx               = ports.Tx
	Locker           = ports.Locker
)

const (
	opSetName      = "set_name"
	opClearName    = "clear_name"
	opKillName     = "kill_name"
	opForceName    = "force_name"
	opQuery        = "query"
	opBalance      = "balance"
	opCheckDeposit = "check_deposit"
)

type Service struct {
	registry Registry
	ledger   Ledger
	gate     Gate
	events   EventSink
	slashed  ImbalanceHandler
	tx       Tx
	locker   Locker
	params   models.Params

	logger           *slog.Logger
	metrics          *metrics.Metrics
	tracer           trace.Tracer
	strictInvariants bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx sets the transaction runner. The default serializes calls in
// memory and suits only in-memory backends.
func WithTx(tx Tx) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithLocker makes every mutating transition lock its account first. Needed
// when the transaction runner does not serialize calls itself.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithSlashHandler sets where kill_name sends slashed deposits. The default
// burns them.
func WithSlashHandler(h ImbalanceHandler) Option {
	return func(s *Service) {
		if h != nil {
			s.slashed = h
		}
	}
}

// WithStrictInvariants makes a short unreserve in clear_name panic instead
// of only being logged.
func WithStrictInvariants(strict bool) Option {
	return func(s *Service) {
		s.strictInvariants = strict
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func New(registry Registry, ledgerPort Ledger, gate Gate, events EventSink, params models.Params, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if ledgerPort == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry params: %w", err)
	}

	svc := &Service{
		registry: registry,
		ledger:   ledgerPort,
		gate:     gate,
		events:   events,
		params:   params,
		tx:       NewSerialTx(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("dattas/internal/names/service"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.slashed == nil {
		svc.slashed = ledger.NewBurn(svc.logger)
	}
	return svc, nil
}

// Params returns the registry's fixed parameters.
func (s *Service) Params() models.Params {
	return s.params
}

// SetName names the signing account. A first name reserves the reservation
// fee; renaming keeps the deposit already held.
func (s *Service) SetName(ctx context.Context, o origin.Origin, name models.Name) (event audit.AuditEvent, err error) {
	ctx, span := s.start(ctx, opSetName)
	defer func() { s.finish(ctx, span, opSetName, err) }()

	who, err := s.gate.ResolveSigned(o)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("account", who.String()))
	if err := s.params.CheckSigned(name); err != nil {
		return "", err
	}

	var reserved id.Balance
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, who); err != nil {
			return err
		}
		existing, err := s.lookup(ctx, who)
		if err != nil {
			return err
		}

		deposit := s.params.ReservationFee
		event = audit.EventNameChanged
		if existing != nil {
			deposit = existing.Deposit
		} else {
			event = audit.EventNameSet
			if err := s.ledger.Reserve(ctx, who, deposit); err != nil {
				return ledgerError(err, "failed to reserve deposit")
			}
			reserved = deposit
			onRollback(ctx, func(ctx context.Context) {
				if _, err := s.ledger.Unreserve(ctx, who, deposit); err != nil {
					s.logger.ErrorContext(ctx, "failed to release reservation after aborted set_name",
						"account", who.String(),
						"error", err,
					)
				}
			})
		}

		if err := s.registry.Insert(ctx, who, models.NameRecord{Name: name.Clone(), Deposit: deposit}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store name")
		}
		return s.emit(ctx, event, who, 0)
	})
	if err != nil {
		return "", err
	}

	s.transitioned(event)
	if s.metrics != nil && event == audit.EventNameSet {
		s.metrics.AddReserved(uint64(reserved))
		s.metrics.NameCreated()
	}
	var deposit id.Balance
	if event == audit.EventNameSet {
		deposit = reserved
	}
	s.committed(ctx, event, who, deposit, "name_len", len(name))
	return event, nil
}

// ClearName removes the signer's name and returns the unreserved deposit.
func (s *Service) ClearName(ctx context.Context, o origin.Origin) (deposit id.Balance, err error) {
	ctx, span := s.start(ctx, opClearName)
	defer func() { s.finish(ctx, span, opClearName, err) }()

	who, err := s.gate.ResolveSigned(o)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.String("account", who.String()))

	var remainder id.Balance
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, who); err != nil {
			return err
		}
		record, err := s.take(ctx, who)
		if err != nil {
			return err
		}
		deposit = record.Deposit
		s.restoreOnRollback(ctx, who, *record)

		remainder, err = s.ledger.Unreserve(ctx, who, deposit)
		if err != nil {
			return ledgerError(err, "failed to unreserve deposit")
		}
		return s.emit(ctx, audit.EventNameCleared, who, deposit)
	})
	if err != nil {
		return 0, err
	}

	s.transitioned(audit.EventNameCleared)
	if !remainder.IsZero() {
		s.depositInvariantBroken(ctx, who, deposit, remainder)
	}
	if s.metrics != nil {
		s.metrics.AddReturned(uint64(deposit - remainder))
		s.metrics.NameRemoved()
	}
	s.committed(ctx, audit.EventNameCleared, who, deposit)
	return deposit, nil
}

// KillName removes target's name by force and slashes its deposit. It
// returns the recorded deposit.
func (s *Service) KillName(ctx context.Context, o origin.Origin, target string) (deposit id.Balance, err error) {
	ctx, span := s.start(ctx, opKillName)
	defer func() { s.finish(ctx, span, opKillName, err) }()

	if err := s.gate.ResolvePrivileged(o); err != nil {
		return 0, err
	}
	victim, err := s.gate.ResolveTarget(ctx, target)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.String("account", victim.String()))

	var slashed id.Balance
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, victim); err != nil {
			return err
		}
		record, err := s.take(ctx, victim)
		if err != nil {
			return err
		}
		deposit = record.Deposit
		s.restoreOnRollback(ctx, victim, *record)

		imbalance, remainder, err := s.ledger.SlashReserved(ctx, victim, deposit)
		if err != nil {
			return ledgerError(err, "failed to slash deposit")
		}
		if !remainder.IsZero() {
			s.logger.WarnContext(ctx, "slash fell short of recorded deposit",
				"account", victim.String(),
				"deposit", uint64(deposit),
				"remainder", uint64(remainder),
			)
		}
		if err := s.slashed.OnUnbalanced(ctx, imbalance); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to route slashed deposit")
		}
		slashed = imbalance.Amount
		return s.emit(ctx, audit.EventNameKilled, victim, deposit)
	})
	if err != nil {
		return 0, err
	}

	s.transitioned(audit.EventNameKilled)
	if s.metrics != nil {
		s.metrics.AddSlashed(uint64(slashed))
		s.metrics.NameRemoved()
	}
	s.committed(ctx, audit.EventNameKilled, victim, deposit, "slashed", uint64(slashed))
	return deposit, nil
}

// ForceName sets target's name without touching the ledger. Only the upper
// length bound applies. An existing deposit is kept; a new record holds zero.
func (s *Service) ForceName(ctx context.Context, o origin.Origin, target string, name models.Name) (err error) {
	ctx, span := s.start(ctx, opForceName)
	defer func() { s.finish(ctx, span, opForceName, err) }()

	if err := s.gate.ResolvePrivileged(o); err != nil {
		return err
	}
	if err := s.params.CheckForced(name); err != nil {
		return err
	}
	account, err := s.gate.ResolveTarget(ctx, target)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("account", account.String()))

	var created bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, account); err != nil {
			return err
		}
		existing, err := s.lookup(ctx, account)
		if err != nil {
			return err
		}
		var deposit id.Balance
		if existing != nil {
			deposit = existing.Deposit
		} else {
			created = true
		}
		if err := s.registry.Insert(ctx, account, models.NameRecord{Name: name.Clone(), Deposit: deposit}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store name")
		}
		return s.emit(ctx, audit.EventNameForced, account, 0)
	})
	if err != nil {
		return err
	}

	s.transitioned(audit.EventNameForced)
	if created && s.metrics != nil {
		s.metrics.NameCreated()
	}
	s.committed(ctx, audit.EventNameForced, account, 0, "name_len", len(name))
	return nil
}

// Query returns the account's record, or nil when it has none.
func (s *Service) Query(ctx context.Context, account id.AccountID) (record *models.NameRecord, err error) {
	ctx, span := s.start(ctx, opQuery)
	defer func() { s.finish(ctx, span, opQuery, err) }()

	return s.lookup(ctx, account)
}

// QueryMany returns the records of the named accounts among accounts.
func (s *Service) QueryMany(ctx context.Context, accounts []id.AccountID) (records map[id.AccountID]models.NameRecord, err error) {
	ctx, span := s.start(ctx, opQuery)
	defer func() { s.finish(ctx, span, opQuery, err) }()

	if len(accounts) == 0 {
		return map[id.AccountID]models.NameRecord{}, nil
	}
	records, err = s.registry.GetMany(ctx, accounts)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load names")
	}
	return records, nil
}

// Balance reports the account's free and reserved balance.
func (s *Service) Balance(ctx context.Context, account id.AccountID) (acc ledger.Account, err error) {
	ctx, span := s.start(ctx, opBalance)
	defer func() { s.finish(ctx, span, opBalance, err) }()

	acc, err = s.ledger.Account(ctx, account)
	if err != nil {
		return ledger.Account{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
	}
	return acc, nil
}

// CheckDeposit compares the recorded deposit with the reserved balance. It
// never mutates state. Names forced onto accounts that later reserve funds
// elsewhere show up here as inconsistent.
func (s *Service) CheckDeposit(ctx context.Context, account id.AccountID) (check models.DepositCheck, err error) {
	ctx, span := s.start(ctx, opCheckDeposit)
	defer func() { s.finish(ctx, span, opCheckDeposit, err) }()

	record, err := s.lookup(ctx, account)
	if err != nil {
		return models.DepositCheck{}, err
	}
	acc, err := s.ledger.Account(ctx, account)
	if err != nil {
		return models.DepositCheck{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
	}
	check = models.DepositCheck{Account: account, Reserved: acc.Reserved}
	if record != nil {
		check.Named = true
		check.Recorded = record.Deposit
	}
	check.Consistent = check.Recorded == check.Reserved
	return check, nil
}

func (s *Service) lock(ctx context.Context, account id.AccountID) error {
	if s.locker == nil {
		return nil
	}
	if err := s.locker.Lock(ctx, account); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock account")
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	record, err := s.registry.Get(ctx, account)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load name")
	}
	return record, nil
}

func (s *Service) take(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	record, err := s.registry.Remove(ctx, account)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeUnnamed, "account has no name")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove name")
	}
	return record, nil
}

// restoreOnRollback puts a removed record back if the transition aborts.
func (s *Service) restoreOnRollback(ctx context.Context, account id.AccountID, record models.NameRecord) {
	onRollback(ctx, func(ctx context.Context) {
		if err := s.registry.Insert(ctx, account, record); err != nil {
			s.logger.ErrorContext(ctx, "failed to restore name after aborted transition",
				"account", account.String(),
				"error", err,
			)
		}
	})
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, account id.AccountID, deposit id.Balance) error {
	err := s.events.Emit(ctx, audit.Event{
		Action:  action,
		Account: account,
		Deposit: deposit,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
	}
	return nil
}

// depositInvariantBroken handles an unreserve that could not return the whole
// recorded deposit. The record is already gone, so the shortfall is reported
// rather than undone.
func (s *Service) depositInvariantBroken(ctx context.Context, account id.AccountID, deposit, remainder id.Balance) {
	s.logger.ErrorContext(ctx, "reserved balance did not cover recorded deposit",
		"account", account.String(),
		"deposit", uint64(deposit),
		"remainder", uint64(remainder),
	)
	if s.metrics != nil {
		s.metrics.IncInvariantViolation()
	}
	if s.strictInvariants {
		panic(fmt.Sprintf("deposit invariant violated for %s: %d of %d not unreserved", account, remainder, deposit))
	}
}

func (s *Service) committed(ctx context.Context, event audit.AuditEvent, account id.AccountID, deposit id.Balance, extra ...any) {
	attrs := append([]any{
		"event", string(event),
		"account", account.String(),
		"deposit", uint64(deposit),
		"request_id", requestcontext.RequestID(ctx),
	}, extra...)
	s.logger.InfoContext(ctx, "name transition committed", attrs...)
}

func (s *Service) transitioned(event audit.AuditEvent) {
	if s.metrics != nil {
		s.metrics.IncTransition(string(event))
	}
}

func ledgerError(err error, msg string) error {
	if dErrors.HasCode(err, dErrors.CodeInsufficientFunds) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "names."+op, trace.WithAttributes(attribute.String("operation", op)))
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	if s.metrics != nil {
		s.metrics.IncFailure(op, string(code))
	}
	if code == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, "name operation failed", "operation", op, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "name operation rejected", "operation", op, "code", string(code))
}
