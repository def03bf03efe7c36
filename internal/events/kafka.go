package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/obs"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				obs.Logger().Warn("kafka_write_failed",
					zap.String("topic", topic),
					zap.Int("messages", len(msgs)),
					zap.Error(err))
			}
		},
	}
}

// KafkaPublisher writes ledger events keyed by entry id. Writes are
// asynchronous; delivery errors are logged by the writer.
type KafkaPublisher struct {
	w messageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: newWriter(brokers, topic)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Entry.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

// VerificationMessage is what the delivery service consumes.
type VerificationMessage struct {
	Type      string    `json:"type"`
	HolderRef string    `json:"holder_ref"`
	Code      string    `json:"code"`
	SentAt    time.Time `json:"sent_at"`
}

// KafkaNotifier hands verification codes to the delivery service over Kafka.
type KafkaNotifier struct {
	w   messageWriter
	now func() time.Time
}

var _ auth.Notifier = (*KafkaNotifier)(nil)

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{w: newWriter(brokers, topic), now: time.Now}
}

func (n *KafkaNotifier) NotifyVerificationCode(ctx context.Context, holderRef, code string) error {
	data, err := json.Marshal(VerificationMessage{
		Type:      "verification.code",
		HolderRef: holderRef,
		Code:      code,
		SentAt:    n.now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.w.WriteMessages(ctx, kafka.Message{Key: []byte(holderRef), Value: data})
}

func (n *KafkaNotifier) Close() error { return n.w.Close() }
