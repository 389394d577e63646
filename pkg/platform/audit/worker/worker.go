package worker

import (
	"context"
	"log/slog"
	"time"

	audit "dattas/pkg/platform/audit"
)

// Producer delivers a batch of events to the message bus. A nil error means
// every event in the batch was acknowledged.
type Producer interface {
	Publish(ctx context.Context, events []audit.Event) error
}

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Worker relays committed events from the outbox to a Producer in commit
// order. A failed batch is retried on the next tick; nothing is marked
// published until the producer acknowledges it.
type Worker struct {
	outbox    audit.Outbox
	producer  Producer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func NewWorker(outbox audit.Outbox, producer Producer, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		producer:  producer,
		logger:    slog.Default(),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := w.RelayOnce(ctx)
				if err != nil {
					w.logger.WarnContext(ctx, "event relay failed", "error", err)
					break
				}
				if n < w.batchSize {
					break
				}
			}
		}
	}
}

// RelayOnce publishes at most one batch and returns how many events it moved.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	events, err := w.outbox.Unpublished(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := w.producer.Publish(ctx, events); err != nil {
		return 0, err
	}
	seqs := make([]uint64, 0, len(events))
	for _, e := range events {
		seqs = append(seqs, e.Seq)
	}
	if err := w.outbox.MarkPublished(ctx, seqs); err != nil {
		return 0, err
	}
	w.logger.DebugContext(ctx, "relayed name events",
		"count", len(events),
		"last_seq", seqs[len(seqs)-1],
	)
	return len(events), nil
}
