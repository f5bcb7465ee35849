// internal/pkg/redis/client.go
package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"ordersaga/internal/pkg/logger"
)

// Client wraps go-redis with named Lua scripts loaded at startup.
type Client struct {
	client  *goredis.Client
	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings once so misconfiguration fails at boot.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}
	logger.Ctx(ctx).Info().Str("addr", cfg.Addr).Msg("✅ Successfully connected to Redis.")
	return Wrap(rdb), nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *goredis.Client) *Client {
	return &Client{client: rdb, scripts: make(map[string]*goredis.Script)}
}

// LoadScriptFromContent registers src under name and loads it into the script cache.
func (c *Client) LoadScriptFromContent(ctx context.Context, name, src string) error {
	script := goredis.NewScript(src)
	if err := script.Load(ctx, c.client).Err(); err != nil {
		return errors.Wrapf(err, "load script %s", name)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript runs a registered script via EVALSHA, falling back to EVAL on a cache miss.
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("redis script %s not loaded", name)
	}
	res, err := script.Run(ctx, c.client, keys, args...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, errors.Wrapf(err, "run script %s", name)
	}
	return res, nil
}

func (c *Client) GetClient() *goredis.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
