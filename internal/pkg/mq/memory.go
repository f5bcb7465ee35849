// internal/pkg/mq/memory.go
package mq

import (
	"context"
	"strconv"
	"sync"

	"ordersaga/internal/pkg/logger"
)

// MemoryBus is an in-process broker with topic-exchange routing and
// at-least-once redelivery. Each subscription gets its own ordered queue.
type MemoryBus struct {
	mu            sync.RWMutex
	subs          []*memorySub
	published     []Message
	closed        bool
	maxDeliveries int
	wg            sync.WaitGroup
}

type memorySub struct {
	sub     Subscription
	handler Handler
	queue   chan Message
	done    chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{maxDeliveries: DefaultMaxDeliveries}
}

// WithMaxDeliveries overrides how often a failing message is redelivered before dead-lettering.
func (b *MemoryBus) WithMaxDeliveries(n int) *MemoryBus {
	if n > 0 {
		b.maxDeliveries = n
	}
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	msg.Headers = injectMap(ctx, cloneHeaders(msg.Headers))

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.published = append(b.published, msg)
	targets := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.sub.Exchange == msg.Exchange && s.sub.matches(msg.RoutingKey) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.queue <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}
	s := &memorySub{
		sub:     sub,
		handler: handler,
		queue:   make(chan Message, 1024),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg := <-s.queue:
				b.deliver(ctx, s, msg)
			}
		}
	}()
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, s *memorySub, msg Message) {
	msgCtx := extractMap(ctx, msg.Headers)
	var err error
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		msg.Attempt = attempt
		if err = s.handler(msgCtx, msg); err == nil {
			return
		}
		logger.Ctx(msgCtx).Warn().Err(err).
			Str("queue", s.sub.Queue).
			Str("routing_key", msg.RoutingKey).
			Int("attempt", attempt).
			Msg("message handling failed")
	}

	if msg.Exchange == defaultDeadLetterExchange {
		return
	}
	headers := cloneHeaders(msg.Headers)
	headers[HeaderOriginalExchange] = msg.Exchange
	headers[HeaderOriginalRoutingKey] = msg.RoutingKey
	headers[HeaderExceptionMessage] = err.Error()
	headers[HeaderDeliveryAttempts] = strconv.Itoa(b.maxDeliveries)
	dead := Message{
		ID:         msg.ID,
		Exchange:   defaultDeadLetterExchange,
		RoutingKey: msg.RoutingKey,
		Key:        msg.Key,
		Body:       msg.Body,
		Headers:    headers,
	}
	if pubErr := b.Publish(msgCtx, dead); pubErr != nil {
		logger.Ctx(msgCtx).Error().Err(pubErr).Str("message_id", msg.ID).Msg("failed to dead-letter message")
	}
}

// Published returns every message accepted by the bus, in publish order.
func (b *MemoryBus) Published() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// RoutingKeys lists the routing keys of published messages, optionally filtered by exchange.
func (b *MemoryBus) RoutingKeys(exchange string) []string {
	var keys []string
	for _, m := range b.Published() {
		if exchange == "" || m.Exchange == exchange {
			keys = append(keys, m.RoutingKey)
		}
	}
	return keys
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.done)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+4)
	for k, v := range h {
		out[k] = v
	}
	return out
}
