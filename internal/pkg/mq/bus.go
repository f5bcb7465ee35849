// internal/pkg/mq/bus.go
package mq

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Header keys stamped on dead-lettered messages.
const (
	HeaderRoutingKey          = "x-routing-key"
	HeaderMessageID           = "x-message-id"
	HeaderOriginalExchange    = "x-original-exchange"
	HeaderOriginalRoutingKey  = "x-original-routing-key"
	HeaderOriginalPartition   = "x-original-partition"
	HeaderOriginalOffset      = "x-original-offset"
	HeaderExceptionMessage    = "x-exception-message"
	HeaderDeliveryAttempts    = "x-delivery-attempts"
	DefaultMaxDeliveries      = 3
	DefaultPrefetch           = 10
	defaultDeadLetterExchange = "deadletter.exchange"
)

var ErrClosed = errors.New("mq: bus closed")

// Message is the transport-neutral unit published to an exchange.
type Message struct {
	ID         string
	Exchange   string
	RoutingKey string
	// Key selects the partition on Kafka; ignored by RabbitMQ.
	Key     string
	Body    []byte
	Headers map[string]string
	// Attempt is 1 on first delivery.
	Attempt int
}

// Handler processes one delivery. A returned error triggers redelivery,
// and after the bus gives up the message is dead-lettered.
type Handler func(ctx context.Context, msg Message) error

// Subscription binds a named queue to an exchange with routing-key patterns.
// Patterns follow topic-exchange rules: '*' is one word, '#' is zero or more.
type Subscription struct {
	Queue    string
	Exchange string
	Bindings []string
	Prefetch int
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Subscribe starts consuming in the background until ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, sub Subscription, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// MatchRoutingKey reports whether key matches a topic-exchange pattern.
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}

func (s Subscription) matches(routingKey string) bool {
	for _, b := range s.Bindings {
		if MatchRoutingKey(b, routingKey) {
			return true
		}
	}
	return false
}

func (s Subscription) validate() error {
	if s.Queue == "" || s.Exchange == "" {
		return errors.New("mq: subscription needs a queue and an exchange")
	}
	if len(s.Bindings) == 0 {
		return errors.Errorf("mq: queue %s has no bindings", s.Queue)
	}
	return nil
}

func (s Subscription) prefetch() int {
	if s.Prefetch > 0 {
		return s.Prefetch
	}
	return DefaultPrefetch
}
