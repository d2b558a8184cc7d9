package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per record, keyed by epoch so that all
// snapshots of an epoch land on the same partition.
type KafkaSink struct {
	writer  MessageWriter
	brokers string
	topic   string
}

// NewKafkaSink creates a sink writing to topic on the given brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaSinkWithWriter(w, topic, brokers...)
}

// NewKafkaSinkWithWriter wraps an existing writer
func NewKafkaSinkWithWriter(w MessageWriter, topic string, brokers ...string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, brokers: strings.Join(brokers, ",")}
}

// Name identifies the sink in logs and status
func (k *KafkaSink) Name() string { return "kafka" }

// Export writes the batch in a single call
func (k *KafkaSink) Export(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec.Envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope for epoch %d: %w", rec.Epoch, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(rec.Epoch, 10)),
			Value: value,
			Headers: []kafka.Header{
				{Key: "signer", Value: []byte(rec.Envelope.Signer)},
				{Key: "algorithm", Value: []byte(rec.Envelope.Algorithm)},
			},
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write to topic %s at %s failed: %w", k.topic, k.brokers, err)
	}
	return nil
}

// Close closes the underlying writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
