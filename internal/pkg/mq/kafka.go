// internal/pkg/mq/kafka.go
package mq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/pkg/logger"
)

// MessageWriter is the part of *kafka.Writer the bus uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const defaultRetryBackoff = 200 * time.Millisecond

// KafkaBus maps exchanges onto topics and queues onto consumer groups.
// The routing key travels in a header and is filtered on the consumer side.
type KafkaBus struct {
	brokers       []string
	writer        MessageWriter
	failure       *FailureHandler
	maxDeliveries int
	backoff       time.Duration // grows linearly with the attempt

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
	closed  bool
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}

func NewKafkaBus(brokers []string, maxDeliveries int) *KafkaBus {
	return newKafkaBus(brokers, NewKafkaWriter(brokers), maxDeliveries, defaultRetryBackoff)
}

func newKafkaBus(brokers []string, writer MessageWriter, maxDeliveries int, backoff time.Duration) *KafkaBus {
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	return &KafkaBus{
		brokers:       brokers,
		writer:        writer,
		failure:       NewFailureHandler(writer, defaultDeadLetterExchange),
		maxDeliveries: maxDeliveries,
		backoff:       backoff,
	}
}

func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	headers := KafkaHeaderCarrier{
		{Key: HeaderRoutingKey, Value: []byte(msg.RoutingKey)},
		{Key: HeaderMessageID, Value: []byte(msg.ID)},
	}
	for k, v := range msg.Headers {
		headers.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Exchange,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: headers,
	})
	return errors.Wrapf(err, "kafka: publish %s to %s", msg.RoutingKey, msg.Exchange)
}

func (b *KafkaBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	reader := NewKafkaReader(b.brokers, sub.Exchange, sub.Queue)
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", sub.Exchange).Str("group", sub.Queue).Msg("✅ Kafka consumer started")
		for {
			// FetchMessage instead of ReadMessage: offsets are committed only after handling.
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || b.isClosed() {
					logger.Ctx(ctx).Info().Str("group", sub.Queue).Msg("🛑 Kafka consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("group", sub.Queue).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			b.process(ctx, sub, handler, m)

			if err := reader.CommitMessages(ctx, m); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("group", sub.Queue).Msg("failed to commit message")
			}
		}
	}()
	return nil
}

func (b *KafkaBus) process(ctx context.Context, sub Subscription, handler Handler, m kafka.Message) {
	carrier := KafkaHeaderCarrier(m.Headers)
	routingKey := carrier.Get(HeaderRoutingKey)
	if !sub.matches(routingKey) {
		return
	}
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	msg := Message{
		ID:         headers[HeaderMessageID],
		Exchange:   m.Topic,
		RoutingKey: routingKey,
		Key:        string(m.Key),
		Body:       m.Value,
		Headers:    headers,
	}

	var err error
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		msg.Attempt = attempt
		if err = handler(msgCtx, msg); err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt < b.maxDeliveries {
			time.Sleep(time.Duration(attempt) * b.backoff)
		}
	}
	if m.Topic == defaultDeadLetterExchange {
		logger.Ctx(msgCtx).Error().Err(err).Str("message_id", msg.ID).Msg("dead-letter handler failed, dropping")
		return
	}
	if dlErr := b.failure.Handle(msgCtx, m, err, b.maxDeliveries); dlErr != nil {
		logger.Ctx(msgCtx).Error().Err(dlErr).Str("message_id", msg.ID).Msg("failed to dead-letter message")
	}
}

func (b *KafkaBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return errors.Wrap(firstErr, "kafka: close")
}

// FailureHandler moves a message that exhausted its retries to the dead-letter topic,
// keeping where it came from and why it failed in the headers.
type FailureHandler struct {
	writer MessageWriter
	topic  string
}

func NewFailureHandler(writer MessageWriter, topic string) *FailureHandler {
	return &FailureHandler{writer: writer, topic: topic}
}

func (h *FailureHandler) Handle(ctx context.Context, m kafka.Message, cause error, attempts int) error {
	headers := KafkaHeaderCarrier(append([]kafka.Header(nil), m.Headers...))
	headers.Set(HeaderOriginalExchange, m.Topic)
	headers.Set(HeaderOriginalPartition, strconv.Itoa(m.Partition))
	headers.Set(HeaderOriginalOffset, strconv.FormatInt(m.Offset, 10))
	headers.Set(HeaderOriginalRoutingKey, headers.Get(HeaderRoutingKey))
	headers.Set(HeaderDeliveryAttempts, strconv.Itoa(attempts))
	if cause != nil {
		headers.Set(HeaderExceptionMessage, cause.Error())
	}

	logger.Ctx(ctx).Warn().
		Str("topic", m.Topic).
		Int64("offset", m.Offset).
		Err(cause).
		Msg("moving message to dead-letter topic")

	err := h.writer.WriteMessages(ctx, kafka.Message{
		Topic:   h.topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
	return errors.Wrap(err, "kafka: write dead letter")
}
