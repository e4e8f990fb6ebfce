package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the wire format consumed by the notification delivery pipeline.
type envelope struct {
	UserID    string       `json:"user_id"`
	Type      Kind         `json:"type"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	Metadata  Notification `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// KafkaNotifier publishes notifications keyed by recipient so a promoter's
// messages stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	nowFn  func() time.Time
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(w messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, nowFn: time.Now}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	env := envelope{
		UserID:    n.Recipient(),
		Type:      n.Kind(),
		Title:     n.Title(),
		Message:   n.Message(),
		Metadata:  withPeriodLabel(n),
		CreatedAt: k.nowFn().UTC(),
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notification: encode %s: %w", n.Kind(), err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Recipient()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Kind())},
		},
	})
	if err != nil {
		return fmt.Errorf("notification: publish %s: %w", n.Kind(), err)
	}

	zap.L().Debug("notification published",
		zap.String("type", string(n.Kind())),
		zap.String("user_id", n.Recipient()),
	)
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

func withPeriodLabel(n Notification) Notification {
	switch v := n.(type) {
	case PayoutSent:
		v.PeriodLabel = v.Period.String()
		return v
	case PayoutNeedsAttention:
		v.PeriodLabel = v.Period.String()
		return v
	}
	return n
}

// LogNotifier only logs. It is used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	zap.L().Info("notification",
		zap.String("type", string(n.Kind())),
		zap.String("user_id", n.Recipient()),
		zap.String("title", n.Title()),
		zap.String("message", n.Message()),
	)
	return nil
}
