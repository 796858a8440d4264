package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "trip-events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic keyed by driver id, so all
// events of one driver stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
	return newKafkaSink(w, logger)
}

func newKafkaSink(w messageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{writer: w, logger: logger}
}

func (k *KafkaSink) Handle(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		k.logger.Warn("kafka sink: marshal event", "kind", ev.Kind, "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err = k.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(ev.DriverID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
		Time: ev.OccurredAt,
	})
	if err != nil {
		k.logger.Warn("kafka sink: write", "kind", ev.Kind, "driver_id", ev.DriverID, "error", err)
	}
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
