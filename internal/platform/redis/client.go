// Package redis opens the connection backing the search index.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"logbook/internal/platform/config"
)

// ErrNotConfigured is returned by New when no URL is set.
var ErrNotConfigured = errors.New("redis: url not configured")

// Client is a go-redis client that has passed the index's startup probe.
type Client struct {
	*redis.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New dials Redis and probes it. The index relies on server-side scripts, so
// a server that rejects EVAL is refused here rather than on first refresh.
func New(ctx context.Context, cfg config.RedisConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	ropts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	ropts.PoolSize = cfg.PoolSize
	ropts.MinIdleConns = cfg.MinIdleConns
	ropts.DialTimeout = cfg.DialTimeout
	ropts.ReadTimeout = cfg.ReadTimeout
	ropts.WriteTimeout = cfg.WriteTimeout

	c := &Client{
		Client: redis.NewClient(ropts),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.probe(ctx); err != nil {
		_ = c.Client.Close()
		return nil, err
	}
	c.logger.Info("redis connected", "addr", ropts.Addr, "db", ropts.DB, "pool_size", ropts.PoolSize)
	return c, nil
}

func (c *Client) probe(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if err := c.Eval(ctx, "return 1", nil).Err(); err != nil {
		return fmt.Errorf("redis scripting unavailable: %w", err)
	}
	return nil
}

// Health reports whether the server still answers.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
