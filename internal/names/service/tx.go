package service

import (
	"context"
	"sync"
)

// SerialTx runs one transition at a time for backends without transactions.
// Steps that already took effect register an undo with onRollback; if the
// transition then fails, the undos run in reverse order.
type SerialTx struct {
	mu sync.Mutex
}

func NewSerialTx() *SerialTx {
	return &SerialTx{}
}

type journalKey struct{}

type journal struct {
	undo []func(ctx context.Context)
}

func (t *SerialTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	j := &journal{}
	err := fn(context.WithValue(ctx, journalKey{}, j))
	if err != nil {
		rollbackCtx := context.WithoutCancel(ctx)
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i](rollbackCtx)
		}
	}
	return err
}

// onRollback registers undo with the surrounding SerialTx. Under a SQL
// transaction it does nothing; the database rolls back instead.
func onRollback(ctx context.Context, undo func(ctx context.Context)) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}
