package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/pkg/redis"
	"ordersaga/internal/service/order/application/saga"
)

const (
	ledgerKeyPrefix    = "ordersaga:ledger:"
	appendLedgerScript = "ledger_append"
)

// appendStep pushes a step and refreshes the TTL in one round trip.
const appendStepLua = `
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return redis.call('LLEN', KEYS[1])
`

// RedisLedgerStore keeps each saga ledger as a Redis list of JSON steps, so a
// restarted orchestrator can still compensate what the previous one started.
type RedisLedgerStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedgerStore(ctx context.Context, client *redis.Client, ttl time.Duration) (*RedisLedgerStore, error) {
	if err := client.LoadScriptFromContent(ctx, appendLedgerScript, appendStepLua); err != nil {
		return nil, err
	}
	return &RedisLedgerStore{client: client, ttl: ttl}, nil
}

func (s *RedisLedgerStore) Append(ctx context.Context, orderID string, step saga.Step) error {
	raw, err := json.Marshal(step)
	if err != nil {
		return errors.Wrap(err, "marshal ledger step")
	}
	_, err = s.client.RunScript(ctx, appendLedgerScript, []string{ledgerKeyPrefix + orderID}, raw, s.ttl.Milliseconds())
	return err
}

func (s *RedisLedgerStore) Load(ctx context.Context, orderID string) ([]saga.Step, error) {
	raws, err := s.client.GetClient().LRange(ctx, ledgerKeyPrefix+orderID, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load ledger %s", orderID)
	}
	steps := make([]saga.Step, 0, len(raws))
	for _, raw := range raws {
		var step saga.Step
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return nil, errors.Wrapf(err, "decode ledger step of %s", orderID)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s *RedisLedgerStore) Clear(ctx context.Context, orderID string) error {
	if err := s.client.GetClient().Del(ctx, ledgerKeyPrefix+orderID).Err(); err != nil {
		return errors.Wrapf(err, "clear ledger %s", orderID)
	}
	return nil
}
