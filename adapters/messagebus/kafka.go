package messagebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/freyr/offer/saga"
	"github.com/freyr/offer/transport"
)

// KafkaConfig configures the Kafka adapter.
type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	StartOffset   int64
	RequiredAcks  int
}

// Validate checks the configuration.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	return nil
}

// DefaultKafkaConfig returns the default Kafka configuration.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "offer-group",
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		MinBytes:      10e3,
		MaxBytes:      10e6,
		MaxWait:       time.Second,
		StartOffset:   kafka.LastOffset,
		RequiredAcks:  -1,
	}
}

// KafkaBus implements transport.MessageBus over Kafka. Each subject maps to
// a topic; offsets are committed only after the handler succeeds, so
// delivery is at-least-once.
type KafkaBus struct {
	config KafkaConfig
	writer *kafka.Writer
	subs   map[string]*kafka.Reader
	mu     sync.Mutex
	logger *slog.Logger
}

// NewKafkaBus creates the adapter. A nil logger falls back to slog.Default.
func NewKafkaBus(config KafkaConfig, logger *slog.Logger) (*KafkaBus, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaBus{
		config: config,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
			BatchSize:    config.BatchSize,
			BatchTimeout: config.FlushInterval,
		},
		subs:   make(map[string]*kafka.Reader),
		logger: logger,
	}, nil
}

func (k *KafkaBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: subject,
		Value: data,
	}
	if len(headers) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(headers))
		for key, v := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(v)})
		}
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (k *KafkaBus) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       subject,
		GroupID:     k.config.GroupID,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: k.config.StartOffset,
	})

	k.mu.Lock()
	k.subs[subject] = reader
	k.mu.Unlock()

	go func() {
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				k.logger.Error("kafka fetch failed", "topic", subject, "error", err)
				continue
			}

			m := &transport.Message{
				Subject: msg.Topic,
				Data:    msg.Value,
				Headers: make(map[string]string, len(msg.Headers)),
			}
			for _, h := range msg.Headers {
				m.Headers[h.Key] = string(h.Value)
			}

			if err := handler(ctx, m); err != nil {
				// Offset stays uncommitted: the message is redelivered.
				k.logger.Error("kafka handler failed", "topic", subject, "error", err)
				continue
			}
			if err := reader.CommitMessages(ctx, msg); err != nil {
				k.logger.Error("kafka commit failed", "topic", subject, "error", err)
			}
		}
	}()

	return nil
}

func (k *KafkaBus) Unsubscribe(subject string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	reader, ok := k.subs[subject]
	if !ok {
		return nil
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close reader %s: %w", subject, err)
	}
	delete(k.subs, subject)
	return nil
}

func (k *KafkaBus) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for subject, reader := range k.subs {
		_ = reader.Close()
		delete(k.subs, subject)
	}
	if k.writer != nil {
		_ = k.writer.Close()
	}
	return nil
}

// KafkaDeadLetter publishes failed saga messages to a dead-letter topic for
// manual intervention. Failed compensations land here.
type KafkaDeadLetter struct {
	bus   *KafkaBus
	codec *saga.Codec
	topic string
}

// NewKafkaDeadLetter creates the queue. The topic is the message type's
// subject namespace with a ".dlq" suffix.
func NewKafkaDeadLetter(bus *KafkaBus, codec *saga.Codec, namespace string) *KafkaDeadLetter {
	return &KafkaDeadLetter{bus: bus, codec: codec, topic: namespace + ".dlq"}
}

func (q *KafkaDeadLetter) Publish(ctx context.Context, msg saga.Message, reason string) error {
	data, err := q.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	headers := map[string]string{
		"original_type": msg.MessageType(),
		"reason":        reason,
		"timestamp":     time.Now().Format(time.RFC3339),
	}
	return q.bus.Publish(ctx, q.topic, data, headers)
}
