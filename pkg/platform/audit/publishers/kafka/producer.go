// Package kafka relays name events to a Kafka topic with franz-go. Records
// are keyed by account so every account's events land on one partition in
// commit order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "dattas/pkg/platform/audit"
)

// Message is the JSON value of each record.
type Message struct {
	Seq       uint64 `json:"seq"`
	ID        string `json:"id"`
	Event     string `json:"event"`
	Account   string `json:"account"`
	Deposit   uint64 `json:"deposit,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// Encode converts an event into its wire form.
func Encode(e audit.Event) Message {
	m := Message{
		Seq:       e.Seq,
		ID:        e.ID.String(),
		Event:     string(e.Action),
		Account:   e.Account.String(),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID: e.RequestID,
	}
	if e.Action.CarriesDeposit() {
		m.Deposit = uint64(e.Deposit)
	}
	return m
}

type Producer struct {
	client *kgo.Client
	topic  string
}

// New connects a producer for topic. Acks are required from all in-sync
// replicas and idempotent writes stay enabled (franz-go default).
func New(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, topic: topic}, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces the batch synchronously and fails if any record fails.
func (p *Producer) Publish(ctx context.Context, events []audit.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(Encode(e))
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.Seq, err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(e.Account.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event", Value: []byte(e.Action)},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce name events: %w", err)
	}
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}
