package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dattas/internal/names/models"
	"dattas/internal/platform/postgres"
	id "dattas/pkg/domain"
	"dattas/pkg/platform/sentinel"
	txcontext "dattas/pkg/platform/tx"
)

// PostgresStore keeps records in the names table and joins the transaction
// carried by ctx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Lock takes the account's advisory lock for the rest of the current
// transaction, so concurrent transitions on one account run one after the
// other even at READ COMMITTED.
func (s *PostgresStore) Lock(ctx context.Context, account id.AccountID) error {
	if err := txcontext.AdvisoryLock(ctx, lockKey(account)); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

// lockKey folds the account id into the 64-bit advisory lock space.
func lockKey(account id.AccountID) int64 {
	hi := binary.BigEndian.Uint64(account[:8])
	lo := binary.BigEndian.Uint64(account[8:])
	return int64(hi ^ lo)
}

func (s *PostgresStore) Get(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	var (
		name    []byte
		deposit int64
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT name, deposit FROM names WHERE account_id = $1`,
		uuid.UUID(account)).Scan(&name, &deposit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get name: %w", postgres.Classify(err))
	}
	return &models.NameRecord{Name: name, Deposit: id.BalanceFromInt64(deposit)}, nil
}

func (s *PostgresStore) GetMany(ctx context.Context, accounts []id.AccountID) (map[id.AccountID]models.NameRecord, error) {
	ids := make([]string, len(accounts))
	for i, account := range accounts {
		ids[i] = account.String()
	}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT account_id, name, deposit FROM names WHERE account_id = ANY($1::uuid[])`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get names: %w", postgres.Classify(err))
	}
	defer rows.Close()

	out := make(map[id.AccountID]models.NameRecord, len(accounts))
	for rows.Next() {
		var (
			account uuid.UUID
			name    []byte
			deposit int64
		)
		if err := rows.Scan(&account, &name, &deposit); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out[id.AccountID(account)] = models.NameRecord{Name: name, Deposit: id.BalanceFromInt64(deposit)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate names: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, account id.AccountID, record models.NameRecord) error {
	deposit, ok := record.Deposit.Int64()
	if !ok {
		return fmt.Errorf("insert name: deposit %d overflows storage", record.Deposit)
	}
	name := []byte(record.Name)
	if name == nil {
		name = []byte{}
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO names (account_id, name, deposit, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id) DO UPDATE SET
			name = EXCLUDED.name,
			deposit = EXCLUDED.deposit,
			updated_at = EXCLUDED.updated_at`,
		uuid.UUID(account), name, deposit)
	if err != nil {
		return fmt.Errorf("insert name: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	var (
		name    []byte
		deposit int64
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`DELETE FROM names WHERE account_id = $1 RETURNING name, deposit`,
		uuid.UUID(account)).Scan(&name, &deposit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("remove name: %w", postgres.Classify(err))
	}
	return &models.NameRecord{Name: name, Deposit: id.BalanceFromInt64(deposit)}, nil
}
