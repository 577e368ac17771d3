package resque

import (
	"fmt"
	"log/slog"
)

// Client is used to enqueue and reserve jobs. It owns the queue engine,
// the delayed schedule and job status tracking.
type Client struct {
	rc     *RedisClient
	events *Events
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEvents sets the event bus used for enqueue events.
func WithEvents(e *Events) ClientOption {
	return func(c *Client) { c.events = e }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client on top of an existing RedisClient.
func NewClient(rc *RedisClient, opts ...ClientOption) *Client {
	c := &Client{rc: rc}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.events == nil {
		c.events = NewEvents(c.logger)
	}
	c.logger = c.logger.With("component", "client")
	return c
}

// Dial connects to Redis and returns a Client.
func Dial(opts ...RedisOption) (*Client, error) {
	rc, err := NewRedisClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return NewClient(rc), nil
}

// Close closes the client's Redis connection.
func (c *Client) Close() error {
	return c.rc.Close()
}

// Redis returns the underlying storage client.
func (c *Client) Redis() *RedisClient {
	return c.rc
}

// Events returns the event bus the client triggers enqueue events on.
func (c *Client) Events() *Events {
	return c.events
}
