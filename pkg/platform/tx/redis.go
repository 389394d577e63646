package tx

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned when a Redis transaction kept losing its watched
// keys to other writers.
var ErrConflict = errors.New("transaction conflicted with concurrent writers")

const defaultRedisAttempts = 10

type redisTxKey struct{}

// RedisTxn is an optimistic Redis transaction. Reads go through Watch so
// that EXEC fails if another client touched the keys; writes are queued and
// sent in one MULTI/EXEC block when the transaction commits. Reads see the
// state at the time they run, not the transaction's own queued writes.
type RedisTxn struct {
	tx     *redis.Tx
	queued []func(ctx context.Context, pipe redis.Pipeliner)
}

// Watch adds keys to the transaction's read set and returns a handle for
// reading them on the transaction's connection.
func (t *RedisTxn) Watch(ctx context.Context, keys ...string) (redis.Cmdable, error) {
	if err := t.tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, err
	}
	return t.tx, nil
}

// Queue schedules a write for the commit.
func (t *RedisTxn) Queue(op func(ctx context.Context, pipe redis.Pipeliner)) {
	t.queued = append(t.queued, op)
}

// RedisFrom extracts the Redis transaction carried by ctx, if any.
func RedisFrom(ctx context.Context) (*RedisTxn, bool) {
	txn, ok := ctx.Value(redisTxKey{}).(*RedisTxn)
	return txn, ok
}

// RedisRunner runs fn in a Redis transaction. Calls from one process are
// serialized; writers in other processes are detected through WATCH and the
// whole of fn is retried, so fn must not have effects outside the
// transaction.
type RedisRunner struct {
	client   *redis.Client
	mu       sync.Mutex
	attempts int
}

func NewRedisRunner(client *redis.Client) *RedisRunner {
	return &RedisRunner{client: client, attempts: defaultRedisAttempts}
}

func (r *RedisRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := RedisFrom(ctx); ok {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return runRedis(ctx, r.client, r.attempts, fn)
}

// WithinRedis joins the transaction carried by ctx, or runs fn in a
// transaction of its own.
func WithinRedis(ctx context.Context, client *redis.Client, fn func(txn *RedisTxn) error) error {
	if txn, ok := RedisFrom(ctx); ok {
		return fn(txn)
	}
	return runRedis(ctx, client, defaultRedisAttempts, func(ctx context.Context) error {
		txn, _ := RedisFrom(ctx)
		return fn(txn)
	})
}

func runRedis(ctx context.Context, client *redis.Client, attempts int, fn func(ctx context.Context) error) error {
	for range attempts {
		err := client.Watch(ctx, func(tx *redis.Tx) error {
			txn := &RedisTxn{tx: tx}
			if err := fn(context.WithValue(ctx, redisTxKey{}, txn)); err != nil {
				return err
			}
			if len(txn.queued) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, op := range txn.queued {
					op(ctx, pipe)
				}
				return nil
			})
			return err
		})
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}
