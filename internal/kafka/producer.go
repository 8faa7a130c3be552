package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/keygate/internal/model"
	"github.com/segmentio/kafka-go"
)

// Producer writes credential events, keyed by credential fingerprint so that
// one credential's events stay ordered within a partition.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c Config) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}}
}

// WriteEvents sends the batch in one call. The batch fails as a whole.
func (p *Producer) WriteEvents(ctx context.Context, events []model.Event) error {
	msgs, err := EncodeEvents(events)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }

func EncodeEvents(events []model.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Credential),
			Value: b,
			Time:  e.OccurredAt,
		})
	}
	return msgs, nil
}

// DecodeEvent parses one message value and rejects payloads without an id or
// with an unknown type.
func DecodeEvent(m Message) (model.Event, error) {
	var e model.Event
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ID == "" || !e.Type.Valid() {
		return model.Event{}, fmt.Errorf("decode event: missing id or unknown type %q", e.Type)
	}
	return e, nil
}
