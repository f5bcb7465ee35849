// internal/pkg/mq/open.go
package mq

import "github.com/pkg/errors"

const (
	DriverRabbitMQ = "rabbitmq"
	DriverKafka    = "kafka"
	DriverMemory   = "memory"
)

// Config selects and configures the transport.
type Config struct {
	Driver        string   `yaml:"driver"`
	RabbitURL     string   `yaml:"rabbitmq_url"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	Prefetch      int      `yaml:"prefetch"`
	MaxDeliveries int      `yaml:"max_deliveries"`
}

// Open builds the bus named by cfg.Driver.
func Open(cfg Config) (Bus, error) {
	switch cfg.Driver {
	case DriverRabbitMQ, "":
		return DialRabbit(cfg.RabbitURL, cfg.Prefetch)
	case DriverKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("mq: kafka driver needs at least one broker")
		}
		return NewKafkaBus(cfg.KafkaBrokers, cfg.MaxDeliveries), nil
	case DriverMemory:
		return NewMemoryBus().WithMaxDeliveries(cfg.MaxDeliveries), nil
	default:
		return nil, errors.Errorf("mq: unknown driver %q", cfg.Driver)
	}
}
