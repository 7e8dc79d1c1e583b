package amqprpc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meshline/amqprpc/flow"
	"github.com/meshline/amqprpc/internal/rabbitmq"
)

// Client is the entry point for amqprpc. It owns the broker connection and
// opens request/reply flows on dedicated channels.
type Client struct {
	conn   *rabbitmq.ConnectionManager
	logger *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger      *slog.Logger
	connOptions []rabbitmq.ConnectionOption
}

// WithClientLogger sets the logger used by the client and its flows.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithConnectionOptions passes options through to the connection manager.
func WithConnectionOptions(options ...rabbitmq.ConnectionOption) ClientOption {
	return func(c *clientConfig) {
		c.connOptions = append(c.connOptions, options...)
	}
}

// Dial connects to the broker and returns a client.
func Dial(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	connOptions := append([]rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(cfg.logger),
	}, cfg.connOptions...)

	conn := rabbitmq.NewConnectionManager(url, connOptions...)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{
		conn:   conn,
		logger: cfg.logger,
	}, nil
}

// OpenFlow opens a dedicated channel and starts a request/reply flow on it.
// The channel belongs to the returned flow alone.
func (c *Client) OpenFlow(ctx context.Context, options ...flow.Option) (*flow.Stage, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	options = append([]flow.Option{flow.WithLogger(c.logger)}, options...)

	stage, err := flow.NewStage(ch, options...)
	if err != nil {
		ch.Close()
		return nil, err
	}

	if err := stage.Start(ctx); err != nil {
		ch.Close()
		return nil, err
	}

	return stage, nil
}

// Connected reports whether the underlying connection is live.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close closes the broker connection. Flows opened from this client fail
// with a shutdown error when the connection goes away.
func (c *Client) Close() error {
	return c.conn.Close()
}
