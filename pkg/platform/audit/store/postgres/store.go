package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
	txcontext "dattas/pkg/platform/tx"
)

// Store implements audit.Store and audit.Outbox on the name_events table.
// Appends join the caller's transaction, so an event commits or rolls back
// together with the registry and ledger writes of its transition.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `seq, id, action, account_id, deposit, request_id, created_at`

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	deposit, ok := event.Deposit.Int64()
	if !ok {
		return fmt.Errorf("append event: deposit %d overflows storage", event.Deposit)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO name_events (id, action, account_id, deposit, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID,
		string(event.Action),
		uuid.UUID(event.Account),
		deposit,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert name event: %w", err)
	}
	return nil
}

func (s *Store) ListByAccount(ctx context.Context, account id.AccountID) ([]audit.Event, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+selectColumns+` FROM name_events WHERE account_id = $1 ORDER BY seq`,
		uuid.UUID(account))
	if err != nil {
		return nil, fmt.Errorf("query name events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListAll(ctx context.Context) ([]audit.Event, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+selectColumns+` FROM name_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query name events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Unpublished returns relayable events by seq. Seq is assigned at insert,
// not at commit, so a batch can hold a later seq of one account before an
// earlier seq of another that was still uncommitted; that one follows in a
// later batch. Events of one account are totally ordered because every
// transition holds the account's advisory lock until it commits, and the
// producer keys records by account.
func (s *Store) Unpublished(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM name_events WHERE published_at IS NULL ORDER BY seq LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) MarkPublished(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(seqs))
	for _, seq := range seqs {
		ids = append(ids, int64(seq))
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE name_events SET published_at = now() WHERE seq = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			seq     int64
			action  string
			account uuid.UUID
			deposit int64
		)
		if err := rows.Scan(&seq, &e.ID, &action, &account, &deposit, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan name event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Action = audit.AuditEvent(action)
		e.Account = id.AccountID(account)
		e.Deposit = id.BalanceFromInt64(deposit)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate name events: %w", err)
	}
	return events, nil
}
