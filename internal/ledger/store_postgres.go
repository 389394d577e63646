package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "dattas/pkg/domain"
	txcontext "dattas/pkg/platform/tx"
)

var (
	ledgerOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dattas_ledger_op_duration_ms",
		Help:    "Latency of ledger balance operations in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	}, []string{"op"})
)

// PostgresLedger keeps balances in the ledger_accounts table. Every method
// joins the transaction carried by ctx, if any.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func observe(op string, start time.Time) {
	ledgerOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

func (l *PostgresLedger) Deposit(ctx context.Context, account id.AccountID, amount id.Balance) error {
	defer observe("deposit", time.Now())
	v, ok := amount.Int64()
	if !ok {
		return fmt.Errorf("deposit: amount %d overflows storage", amount)
	}
	_, err := txcontext.Exec(ctx, l.db).ExecContext(ctx, `
		INSERT INTO ledger_accounts (account_id, free, reserved)
		VALUES ($1, $2, 0)
		ON CONFLICT (account_id) DO UPDATE SET
			free = ledger_accounts.free + EXCLUDED.free`,
		uuid.UUID(account), v)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Exists(ctx context.Context, account id.AccountID) (bool, error) {
	var exists bool
	err := txcontext.Exec(ctx, l.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_accounts WHERE account_id = $1)`,
		uuid.UUID(account)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return exists, nil
}

func (l *PostgresLedger) Account(ctx context.Context, account id.AccountID) (Account, error) {
	var free, reserved int64
	err := txcontext.Exec(ctx, l.db).QueryRowContext(ctx,
		`SELECT free, reserved FROM ledger_accounts WHERE account_id = $1`,
		uuid.UUID(account)).Scan(&free, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{ID: account}, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("load account: %w", err)
	}
	return Account{
		ID:       account,
		Free:     id.BalanceFromInt64(free),
		Reserved: id.BalanceFromInt64(reserved),
	}, nil
}

// Reserve moves amount from free to reserved. The guarded UPDATE matches no
// row when the account is missing or too poor, which is reported as a funds
// error, except that a zero reservation creates a missing account.
func (l *PostgresLedger) Reserve(ctx context.Context, account id.AccountID, amount id.Balance) error {
	defer observe("reserve", time.Now())
	v, ok := amount.Int64()
	if !ok {
		return ErrInsufficientFunds(0, amount)
	}
	exec := txcontext.Exec(ctx, l.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET free = free - $2, reserved = reserved + $2
		WHERE account_id = $1 AND free >= $2`,
		uuid.UUID(account), v)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if n > 0 {
		return nil
	}
	if amount.IsZero() {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO ledger_accounts (account_id, free, reserved)
			VALUES ($1, 0, 0)
			ON CONFLICT (account_id) DO NOTHING`,
			uuid.UUID(account))
		if err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		return nil
	}
	acc, err := l.Account(ctx, account)
	if err != nil {
		return err
	}
	return ErrInsufficientFunds(acc.Free, amount)
}

func (l *PostgresLedger) Unreserve(ctx context.Context, account id.AccountID, amount id.Balance) (id.Balance, error) {
	defer observe("unreserve", time.Now())
	actual, err := l.moveReserved(ctx, account, amount, `
		WITH cur AS (
			SELECT account_id, LEAST(reserved, $2) AS actual
			FROM ledger_accounts WHERE account_id = $1 FOR UPDATE
		)
		UPDATE ledger_accounts a
		SET reserved = a.reserved - cur.actual, free = a.free + cur.actual
		FROM cur WHERE a.account_id = cur.account_id
		RETURNING cur.actual`)
	if err != nil {
		return 0, fmt.Errorf("unreserve: %w", err)
	}
	return amount - actual, nil
}

func (l *PostgresLedger) SlashReserved(ctx context.Context, account id.AccountID, amount id.Balance) (Imbalance, id.Balance, error) {
	defer observe("slash_reserved", time.Now())
	actual, err := l.moveReserved(ctx, account, amount, `
		WITH cur AS (
			SELECT account_id, LEAST(reserved, $2) AS actual
			FROM ledger_accounts WHERE account_id = $1 FOR UPDATE
		)
		UPDATE ledger_accounts a
		SET reserved = a.reserved - cur.actual
		FROM cur WHERE a.account_id = cur.account_id
		RETURNING cur.actual`)
	if err != nil {
		return Imbalance{}, 0, fmt.Errorf("slash reserved: %w", err)
	}
	return Imbalance{From: account, Amount: actual}, amount - actual, nil
}

// moveReserved runs a query that returns the amount actually taken from
// reserved balance. A missing account moves nothing.
func (l *PostgresLedger) moveReserved(ctx context.Context, account id.AccountID, amount id.Balance, query string) (id.Balance, error) {
	v, ok := amount.Int64()
	if !ok {
		v = int64(^uint64(0) >> 1)
	}
	var actual int64
	err := txcontext.Exec(ctx, l.db).QueryRowContext(ctx, query, uuid.UUID(account), v).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id.BalanceFromInt64(actual), nil
}
