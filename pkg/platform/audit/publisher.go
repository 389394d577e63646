package audit

import (
	"context"

	"github.com/google/uuid"

	id "dattas/pkg/domain"
	"dattas/pkg/requestcontext"
)

// Publisher stamps events and appends them to the store synchronously, so an
// event is durable in the same transaction as the transition that caused it.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, account id.AccountID) ([]Event, error) {
	return p.store.ListByAccount(ctx, account)
}
