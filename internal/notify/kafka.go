package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes every event to one topic keyed by "model:record_id", so
// changes to a record stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaSink creates a synchronous writer for topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// MessageKey is the partition key of an event.
func MessageKey(p Payload) []byte {
	return []byte(fmt.Sprintf("%s:%d", p.Model, p.RecordID))
}

func (k *KafkaSink) Publish(ctx context.Context, p Payload, body []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   MessageKey(p),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(p.Event)},
			{Key: "event_id", Value: []byte(p.EventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", p.Event, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
