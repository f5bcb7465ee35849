// internal/pkg/mq/rabbitmq.go
package mq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/pkg/logger"
)

// RabbitBus publishes to durable topic exchanges with publisher confirms and
// consumes with manual acknowledgement. A failed delivery is requeued once; a
// failed redelivery is rejected into the dead-letter exchange.
type RabbitBus struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	pubMu    sync.Mutex
	prefetch int

	declared sync.Map // exchange name -> struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	channels []*amqp.Channel
	closed   bool
}

func DialRabbit(url string, prefetch int) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: open publish channel")
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: enable publisher confirms")
	}
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	b := &RabbitBus{conn: conn, pubCh: ch, prefetch: prefetch}
	if err := b.declareExchange(ch, defaultDeadLetterExchange); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *RabbitBus) declareExchange(ch *amqp.Channel, name string) error {
	if _, ok := b.declared.Load(name); ok {
		return nil
	}
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "rabbitmq: declare exchange %s", name)
	}
	b.declared.Store(name, struct{}{})
	return nil
}

func (b *RabbitBus) Publish(ctx context.Context, msg Message) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := b.declareExchange(b.pubCh, msg.Exchange); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, AMQPTableCarrier(headers))

	msgID := msg.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, msg.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		return errors.Wrapf(err, "rabbitmq: publish %s to %s", msg.RoutingKey, msg.Exchange)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "rabbitmq: wait for confirm")
	}
	if !acked {
		return errors.Errorf("rabbitmq: broker nacked %s", msg.RoutingKey)
	}
	return nil
}

func (b *RabbitBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	ch, err := b.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "rabbitmq: open consume channel")
	}
	if err := b.declareExchange(ch, sub.Exchange); err != nil {
		ch.Close()
		return err
	}
	q, err := ch.QueueDeclare(sub.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": defaultDeadLetterExchange,
	})
	if err != nil {
		ch.Close()
		return errors.Wrapf(err, "rabbitmq: declare queue %s", sub.Queue)
	}
	for _, key := range sub.Bindings {
		if err := ch.QueueBind(q.Name, key, sub.Exchange, false, nil); err != nil {
			ch.Close()
			return errors.Wrapf(err, "rabbitmq: bind %s to %s with %s", q.Name, sub.Exchange, key)
		}
	}
	if err := ch.Qos(sub.prefetch(), 0, false); err != nil {
		ch.Close()
		return errors.Wrap(err, "rabbitmq: set qos")
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return errors.Wrapf(err, "rabbitmq: consume %s", q.Name)
	}

	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		logger.Ctx(ctx).Info().Str("queue", q.Name).Strs("bindings", sub.Bindings).Msg("✅ RabbitMQ consumer started")
		for {
			select {
			case <-ctx.Done():
				logger.Ctx(ctx).Info().Str("queue", q.Name).Msg("🛑 RabbitMQ consumer shutting down")
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.handle(ctx, sub, handler, d)
			}
		}
	}()
	return nil
}

func (b *RabbitBus) handle(ctx context.Context, sub Subscription, handler Handler, d amqp.Delivery) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, AMQPTableCarrier(d.Headers))

	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	deathHeaders(d.Headers, headers)
	attempt := 1
	if d.Redelivered {
		attempt = 2
	}
	msg := Message{
		ID:         d.MessageId,
		Exchange:   d.Exchange,
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		Headers:    headers,
		Attempt:    attempt,
	}

	if err := handler(msgCtx, msg); err != nil {
		requeue := !d.Redelivered
		logger.Ctx(msgCtx).Warn().Err(err).
			Str("queue", sub.Queue).
			Str("routing_key", d.RoutingKey).
			Bool("requeue", requeue).
			Msg("message handling failed")
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			logger.Ctx(msgCtx).Error().Err(nackErr).Msg("failed to nack delivery")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Ctx(msgCtx).Error().Err(err).Msg("failed to ack delivery")
	}
}

// deliveriesPerDeath is how often a message is handed to a consumer before it
// is rejected: the first failure requeues, the second dead-letters.
const deliveriesPerDeath = 2

// deathHeaders fills the dead-letter headers from the x-death table the broker
// adds when a queue dead-letters a message. Headers already present win.
func deathHeaders(table amqp.Table, headers map[string]string) {
	deaths, ok := table["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return
	}
	// The broker keeps the most recent death first.
	latest, ok := deaths[0].(amqp.Table)
	if !ok {
		return
	}
	set := func(key, value string) {
		if value != "" && headers[key] == "" {
			headers[key] = value
		}
	}
	exchange, _ := latest["exchange"].(string)
	set(HeaderOriginalExchange, exchange)
	if keys, ok := latest["routing-keys"].([]interface{}); ok && len(keys) > 0 {
		key, _ := keys[0].(string)
		set(HeaderOriginalRoutingKey, key)
	}
	if count, ok := latest["count"].(int64); ok && count > 0 {
		set(HeaderDeliveryAttempts, strconv.FormatInt(count*deliveriesPerDeath, 10))
	}
	if reason, _ := latest["reason"].(string); reason != "" {
		queue, _ := latest["queue"].(string)
		set(HeaderExceptionMessage, "dead-lettered by broker: "+reason+" on queue "+queue)
	}
}

func (b *RabbitBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	b.wg.Wait()
	_ = b.pubCh.Close()
	return errors.Wrap(b.conn.Close(), "rabbitmq: close connection")
}
