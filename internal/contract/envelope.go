package contract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/pkg/mq"
)

// Envelope is the wire format of every message: {"eventType": ..., "payload": {...}}.
type Envelope struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode wraps evt in an envelope.
func Encode(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", evt.EventType())
	}
	return json.Marshal(Envelope{EventType: evt.EventType(), Payload: payload})
}

// Decode unwraps an envelope. A body without an eventType is rejected.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.EventType == "" {
		return Envelope{}, errors.New("decode envelope: missing eventType")
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into v.
func DecodePayload(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	return nil
}

// SagaTimeoutType is the routing key of dead-letter records for inventory checks
// that never produced feedback.
const SagaTimeoutType = "saga.inventory_check.timeout"

// SagaDeadLetter records a supervised saga task that gave up.
type SagaDeadLetter struct {
	Metadata
	OrderID  string        `json:"orderId"`
	Task     string        `json:"task"`
	Reason   string        `json:"reason"`
	Deadline time.Duration `json:"deadlineNanos"`
}

func (SagaDeadLetter) EventType() string { return SagaTimeoutType }
func (SagaDeadLetter) Exchange() string  { return DeadLetterExchange }
func (e SagaDeadLetter) Key() string     { return e.OrderID }

// Publisher encodes events and hands them to the bus.
type Publisher struct {
	bus mq.Publisher
}

func NewPublisher(bus mq.Publisher) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	msg := mq.Message{
		ID:         evt.Meta().EventID,
		Exchange:   evt.Exchange(),
		RoutingKey: evt.EventType(),
		Key:        evt.Key(),
		Body:       body,
	}
	if err := p.bus.Publish(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for %s", evt.EventType(), evt.Key())
	}
	return nil
}
