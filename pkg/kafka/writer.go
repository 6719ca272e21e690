// Package kafka publishes outbox messages to Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const defaultWriteTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is a synchronous producer: Publish returns after every in-sync
// replica acknowledged the message.
type Writer struct {
	w       messageWriter
	brokers []string
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewWriter(cfg config.KafkaConfig, logg *logger.Logger) (*Writer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: false,
	}
	if logg != nil {
		ctx := logg.WithField(context.Background(), "brokers", strings.Join(brokers, ","))
		logg.Info(ctx, "kafka writer initialized")
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &Writer{w: w, brokers: brokers, timeout: timeout, dial: dialer.DialContext}, nil
}

// Publish writes msg to topic. Messages are keyed by aggregate id so one
// order's events land on one partition.
func (w *Writer) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka topic is required")
	}
	if err := w.w.WriteMessages(ctx, toKafkaMessage(topic, msg)); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (w *Writer) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range w.brokers {
		conn, err := w.dial(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

func (w *Writer) Close() error {
	return w.w.Close()
}

func toKafkaMessage(topic string, msg outbox.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	out := kafka.Message{
		Topic:   topic,
		Value:   msg.Data,
		Headers: headers,
		Time:    time.Now().UTC(),
	}
	if msg.Key != "" {
		out.Key = []byte(msg.Key)
	}
	return out
}

func cleanBrokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, b := range in {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
