package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "dattas/pkg/domain"
	txcontext "dattas/pkg/platform/tx"
)

const (
	accountKeyPrefix = "ledger:"
	fieldFree        = "free"
	fieldReserved    = "reserved"
)

// RedisLedger keeps one hash per account with free and reserved counters.
// Methods join the Redis transaction carried by ctx; called outside one,
// each runs in a transaction of its own.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func accountKey(account id.AccountID) string {
	return accountKeyPrefix + account.String()
}

func (l *RedisLedger) Deposit(ctx context.Context, account id.AccountID, amount id.Balance) error {
	defer observe("deposit", time.Now())
	v, ok := amount.Int64()
	if !ok {
		return fmt.Errorf("deposit: amount %d overflows storage", amount)
	}
	key := accountKey(account)
	return txcontext.WithinRedis(ctx, l.client, func(txn *txcontext.RedisTxn) error {
		txn.Queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HIncrBy(ctx, key, fieldFree, v)
			pipe.HIncrBy(ctx, key, fieldReserved, 0)
		})
		return nil
	})
}

func (l *RedisLedger) Exists(ctx context.Context, account id.AccountID) (bool, error) {
	n, err := l.reader(ctx, accountKey(account)).Exists(ctx, accountKey(account)).Result()
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Account(ctx context.Context, account id.AccountID) (Account, error) {
	acc, err := l.load(ctx, l.reader(ctx, accountKey(account)), account)
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Reserve moves amount from free to reserved. A zero reservation succeeds
// for unknown accounts and creates them.
func (l *RedisLedger) Reserve(ctx context.Context, account id.AccountID, amount id.Balance) error {
	defer observe("reserve", time.Now())
	key := accountKey(account)
	return txcontext.WithinRedis(ctx, l.client, func(txn *txcontext.RedisTxn) error {
		acc, err := l.loadWatched(ctx, txn, account)
		if err != nil {
			return err
		}
		v, ok := amount.Int64()
		if !ok || acc.Free < amount {
			return ErrInsufficientFunds(acc.Free, amount)
		}
		txn.Queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HIncrBy(ctx, key, fieldFree, -v)
			pipe.HIncrBy(ctx, key, fieldReserved, v)
		})
		return nil
	})
}

func (l *RedisLedger) Unreserve(ctx context.Context, account id.AccountID, amount id.Balance) (id.Balance, error) {
	defer observe("unreserve", time.Now())
	actual, err := l.takeReserved(ctx, account, amount, true)
	if err != nil {
		return 0, fmt.Errorf("unreserve: %w", err)
	}
	return amount - actual, nil
}

func (l *RedisLedger) SlashReserved(ctx context.Context, account id.AccountID, amount id.Balance) (Imbalance, id.Balance, error) {
	defer observe("slash_reserved", time.Now())
	actual, err := l.takeReserved(ctx, account, amount, false)
	if err != nil {
		return Imbalance{}, 0, fmt.Errorf("slash reserved: %w", err)
	}
	return Imbalance{From: account, Amount: actual}, amount - actual, nil
}

// takeReserved removes up to amount from reserved balance, crediting it to
// free when toFree is set, and returns the amount actually taken.
func (l *RedisLedger) takeReserved(ctx context.Context, account id.AccountID, amount id.Balance, toFree bool) (id.Balance, error) {
	key := accountKey(account)
	var actual id.Balance
	err := txcontext.WithinRedis(ctx, l.client, func(txn *txcontext.RedisTxn) error {
		acc, err := l.loadWatched(ctx, txn, account)
		if err != nil {
			return err
		}
		actual = id.Min(acc.Reserved, amount)
		if actual.IsZero() {
			return nil
		}
		v, _ := actual.Int64()
		txn.Queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HIncrBy(ctx, key, fieldReserved, -v)
			if toFree {
				pipe.HIncrBy(ctx, key, fieldFree, v)
			}
		})
		return nil
	})
	return actual, err
}

func (l *RedisLedger) reader(ctx context.Context, key string) redis.Cmdable {
	if txn, ok := txcontext.RedisFrom(ctx); ok {
		if watched, err := txn.Watch(ctx, key); err == nil {
			return watched
		}
	}
	return l.client
}

func (l *RedisLedger) loadWatched(ctx context.Context, txn *txcontext.RedisTxn, account id.AccountID) (Account, error) {
	reader, err := txn.Watch(ctx, accountKey(account))
	if err != nil {
		return Account{}, fmt.Errorf("watch account: %w", err)
	}
	return l.load(ctx, reader, account)
}

func (l *RedisLedger) load(ctx context.Context, reader redis.Cmdable, account id.AccountID) (Account, error) {
	fields, err := reader.HGetAll(ctx, accountKey(account)).Result()
	if err != nil {
		return Account{}, fmt.Errorf("load account: %w", err)
	}
	acc := Account{ID: account}
	if acc.Free, err = parseCounter(fields[fieldFree]); err != nil {
		return Account{}, err
	}
	if acc.Reserved, err = parseCounter(fields[fieldReserved]); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func parseCounter(raw string) (id.Balance, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt balance %q: %w", raw, err)
	}
	return id.BalanceFromInt64(v), nil
}
