package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "dattas/pkg/domain"
)

// AuditEvent names a committed name-registry transition.
type AuditEvent string

const (
	EventNameSet     AuditEvent = "name_set"
	EventNameChanged AuditEvent = "name_changed"
	EventNameCleared AuditEvent = "name_cleared"
	EventNameKilled  AuditEvent = "name_killed"
	EventNameForced  AuditEvent = "name_forced"
)

// carriesDeposit marks the events whose payload includes the deposit moved
// by the transition.
var carriesDeposit = map[AuditEvent]bool{
	EventNameCleared: true,
	EventNameKilled:  true,
}

// Valid reports whether e is a known event kind.
func (e AuditEvent) Valid() bool {
	switch e {
	case EventNameSet, EventNameChanged, EventNameCleared, EventNameKilled, EventNameForced:
		return true
	}
	return false
}

// CarriesDeposit reports whether the event's Deposit field is meaningful.
func (e AuditEvent) CarriesDeposit() bool {
	return carriesDeposit[e]
}

// Event is one entry of the append-only transition log. Account is the
// caller for set/changed/cleared and the target for killed/forced.
type Event struct {
	Seq       uint64
	ID        uuid.UUID
	Action    AuditEvent
	Account   id.AccountID
	Deposit   id.Balance
	Timestamp time.Time
	RequestID string
}

// Store persists events in commit order. Append assigns Seq.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByAccount(ctx context.Context, account id.AccountID) ([]Event, error)
	ListAll(ctx context.Context) ([]Event, error)
}

// Outbox exposes events not yet relayed to the message bus, oldest first.
type Outbox interface {
	Unpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, seqs []uint64) error
}
