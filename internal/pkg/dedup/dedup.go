// Package dedup remembers processed event ids for a bounded time.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"ordersaga/internal/pkg/redis"
)

// Store records event ids. Seen marks id as processed and reports whether it
// already was; Forget drops it again so a failed delivery can be retried.
type Store interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// MemoryStore keeps ids for ttl, evicting the oldest once capacity is reached.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List
	index    map[string]*list.Element
	now      func() time.Time
}

type entry struct {
	id      string
	expires time.Time
}

func NewMemoryStore(ttl time.Duration, capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (s *MemoryStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expire(now)
	if _, ok := s.index[id]; ok {
		return true, nil
	}
	for s.order.Len() >= s.capacity {
		s.remove(s.order.Front())
	}
	var expires time.Time
	if s.ttl > 0 {
		expires = now.Add(s.ttl)
	}
	s.index[id] = s.order.PushBack(entry{id: id, expires: expires})
	return false, nil
}

func (s *MemoryStore) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.index[id]; ok {
		s.remove(el)
	}
	return nil
}

// Len is the number of retained ids.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// expire drops entries from the front; insertion order equals expiry order.
func (s *MemoryStore) expire(now time.Time) {
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		e := el.Value.(entry)
		if e.expires.IsZero() || now.Before(e.expires) {
			return
		}
		s.remove(el)
	}
}

func (s *MemoryStore) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.index, el.Value.(entry).id)
}

// RedisStore uses SET NX with a TTL, so retention is bounded by Redis expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	created, err := s.client.GetClient().SetNX(ctx, s.prefix+id, 1, s.ttl).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, errors.Wrapf(err, "dedup setnx %s", id)
	}
	return !created, nil
}

func (s *RedisStore) Forget(ctx context.Context, id string) error {
	if err := s.client.GetClient().Del(ctx, s.prefix+id).Err(); err != nil {
		return errors.Wrapf(err, "dedup forget %s", id)
	}
	return nil
}
