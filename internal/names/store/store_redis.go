package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"dattas/internal/names/models"
	id "dattas/pkg/domain"
	"dattas/pkg/platform/sentinel"
	txcontext "dattas/pkg/platform/tx"
)

const (
	nameKeyPrefix = "names:"
	fieldName     = "name"
	fieldDeposit  = "deposit"
)

// RedisStore keeps one hash per named account. Keys are the blake2b-128
// digest of the account followed by the account itself, which spreads keys
// evenly while keeping them reversible. Inside a Redis transaction reads are
// watched and writes are queued for the commit.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func nameKey(account id.AccountID) string {
	raw := account[:]
	h, _ := blake2b.New(16, nil)
	h.Write(raw)
	return nameKeyPrefix + hex.EncodeToString(h.Sum(nil)) + hex.EncodeToString(raw)
}

func (s *RedisStore) Get(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	key := nameKey(account)
	reader := redis.Cmdable(s.client)
	if txn, ok := txcontext.RedisFrom(ctx); ok {
		watched, err := txn.Watch(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("watch name: %w", err)
		}
		reader = watched
	}
	fields, err := reader.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get name: %w", err)
	}
	return decodeRecord(fields)
}

func (s *RedisStore) GetMany(ctx context.Context, accounts []id.AccountID) (map[id.AccountID]models.NameRecord, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(accounts))
	for i, account := range accounts {
		cmds[i] = pipe.HGetAll(ctx, nameKey(account))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("get names: %w", err)
	}
	out := make(map[id.AccountID]models.NameRecord, len(accounts))
	for i, cmd := range cmds {
		record, err := decodeRecord(cmd.Val())
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[accounts[i]] = *record
	}
	return out, nil
}

func (s *RedisStore) Insert(ctx context.Context, account id.AccountID, record models.NameRecord) error {
	key := nameKey(account)
	fields := []any{
		fieldName, []byte(record.Name),
		fieldDeposit, strconv.FormatUint(uint64(record.Deposit), 10),
	}
	if txn, ok := txcontext.RedisFrom(ctx); ok {
		txn.Queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HSet(ctx, key, fields...)
		})
		return nil
	}
	if err := s.client.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("insert name: %w", err)
	}
	return nil
}

// Remove reads and deletes the record. Outside a transaction both happen in
// one MULTI block.
func (s *RedisStore) Remove(ctx context.Context, account id.AccountID) (*models.NameRecord, error) {
	key := nameKey(account)
	if txn, ok := txcontext.RedisFrom(ctx); ok {
		record, err := s.Get(ctx, account)
		if err != nil {
			return nil, err
		}
		txn.Queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.Del(ctx, key)
		})
		return record, nil
	}
	var get *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove name: %w", err)
	}
	return decodeRecord(get.Val())
}

func decodeRecord(fields map[string]string) (*models.NameRecord, error) {
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	deposit, err := strconv.ParseUint(fields[fieldDeposit], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt deposit %q", sentinel.ErrInvalidState, fields[fieldDeposit])
	}
	return &models.NameRecord{
		Name:    models.Name(fields[fieldName]),
		Deposit: id.Balance(deposit),
	}, nil
}
