// Package ports declares what the names service needs from the rest of the
// system.
package ports

import (
	"context"

	"dattas/internal/ledger"
	"dattas/internal/names/models"
	"dattas/internal/origin"
	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
)

// Registry maps accounts to name records. Get and Remove return
// sentinel.ErrNotFound for unnamed accounts.
type Registry interface {
	Get(ctx context.Context, account id.AccountID) (*models.NameRecord, error)
	GetMany(ctx context.Context, accounts []id.AccountID) (map[id.AccountID]models.NameRecord, error)
	Insert(ctx context.Context, account id.AccountID, record models.NameRecord) error
	Remove(ctx context.Context, account id.AccountID) (*models.NameRecord, error)
}

// Ledger is the reservation ledger.
type Ledger interface {
	Reserve(ctx context.Context, account id.AccountID, amount id.Balance) error
	Unreserve(ctx context.Context, account id.AccountID, amount id.Balance) (id.Balance, error)
	SlashReserved(ctx context.Context, account id.AccountID, amount id.Balance) (ledger.Imbalance, id.Balance, error)
	Account(ctx context.Context, account id.AccountID) (ledger.Account, error)
}

type ImbalanceHandler interface {
	OnUnbalanced(ctx context.Context, imbalance ledger.Imbalance) error
}

// Gate authorizes origins.
type Gate interface {
	ResolveSigned(o origin.Origin) (id.AccountID, error)
	ResolvePrivileged(o origin.Origin) error
	ResolveTarget(ctx context.Context, descriptor string) (id.AccountID, error)
}

type EventSink interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Locker serializes transitions on one account. Lock is called inside the
// transition's transaction and holds until it ends.
type Locker interface {
	Lock(ctx context.Context, account id.AccountID) error
}

// Tx runs fn so that its registry, ledger and event effects commit together.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
