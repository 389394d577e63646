package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
	"dattas/pkg/platform/audit/store/memory"
)

type recordingProducer struct {
	batches [][]audit.Event
	fail    error
}

func (p *recordingProducer) Publish(_ context.Context, events []audit.Event) error {
	if p.fail != nil {
		return p.fail
	}
	p.batches = append(p.batches, append([]audit.Event{}, events...))
	return nil
}

func seed(t *testing.T, store *memory.InMemoryStore, n int) {
	t.Helper()
	account := id.NewAccountID()
	for range n {
		require.NoError(t, store.Append(context.Background(), audit.Event{Action: audit.EventNameChanged, Account: account}))
	}
}

func TestRelayOnce_PublishesInCommitOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	seed(t, store, 5)
	producer := &recordingProducer{}
	w := NewWorker(store, producer, WithBatchSize(3))

	n, err := w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, producer.batches, 2)
	var seqs []uint64
	for _, b := range producer.batches {
		for _, e := range b {
			seqs = append(seqs, e.Seq)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestRelayOnce_FailedPublishLeavesOutboxIntact(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	seed(t, store, 2)
	producer := &recordingProducer{fail: errors.New("broker down")}
	w := NewWorker(store, producer)

	_, err := w.RelayOnce(ctx)
	require.Error(t, err)

	pending, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	producer.fail = nil
	n, err := w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
