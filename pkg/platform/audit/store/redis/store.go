// Package redis keeps the transition log in Redis for the Redis backend.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
	txcontext "dattas/pkg/platform/tx"
)

const (
	seqKey           = "events:seq"
	logKey           = "events:log"
	accountKeyPrefix = "events:account:"
)

// appendScript assigns the next sequence number and indexes the event under
// its account in one step, so it can be queued inside MULTI.
var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2], seq, ARGV[1])
redis.call('RPUSH', KEYS[3], seq)
return seq
`)

type record struct {
	ID        uuid.UUID        `json:"id"`
	Action    audit.AuditEvent `json:"action"`
	Account   id.AccountID     `json:"account"`
	Deposit   uint64           `json:"deposit"`
	Timestamp time.Time        `json:"ts"`
	RequestID string           `json:"request_id,omitempty"`
}

// Store implements audit.Store. Appends join the Redis transaction carried
// by ctx and commit with the rest of the transition.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(record{
		ID:        event.ID,
		Action:    event.Action,
		Account:   event.Account,
		Deposit:   uint64(event.Deposit),
		Timestamp: event.Timestamp.UTC(),
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("encode name event: %w", err)
	}
	keys := []string{seqKey, logKey, accountKeyPrefix + event.Account.String()}
	return txcontext.WithinRedis(ctx, s.client, func(txn *txcontext.RedisTxn) error {
		txn.Queue(func(ctx context.Context, pipe redis.Pipeliner) {
			appendScript.Eval(ctx, pipe, keys, payload)
		})
		return nil
	})
}

func (s *Store) ListByAccount(ctx context.Context, account id.AccountID) ([]audit.Event, error) {
	seqs, err := s.client.LRange(ctx, accountKeyPrefix+account.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query name events: %w", err)
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	payloads, err := s.client.HMGet(ctx, logKey, seqs...).Result()
	if err != nil {
		return nil, fmt.Errorf("query name events: %w", err)
	}
	events := make([]audit.Event, 0, len(seqs))
	for i, raw := range payloads {
		payload, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("name event %s missing from log", seqs[i])
		}
		event, err := decode(seqs[i], payload)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// ListAll returns every event in commit order.
func (s *Store) ListAll(ctx context.Context) ([]audit.Event, error) {
	entries, err := s.client.HGetAll(ctx, logKey).Result()
	if err != nil {
		return nil, fmt.Errorf("query name events: %w", err)
	}
	events := make([]audit.Event, 0, len(entries))
	for seq, payload := range entries {
		event, err := decode(seq, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

func decode(seq, payload string) (audit.Event, error) {
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return audit.Event{}, fmt.Errorf("corrupt event sequence %q: %w", seq, err)
	}
	var r record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return audit.Event{}, fmt.Errorf("decode name event %d: %w", n, err)
	}
	return audit.Event{
		Seq:       n,
		ID:        r.ID,
		Action:    r.Action,
		Account:   r.Account,
		Deposit:   id.Balance(r.Deposit),
		Timestamp: r.Timestamp,
		RequestID: r.RequestID,
	}, nil
}
