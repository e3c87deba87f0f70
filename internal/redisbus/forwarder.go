// Package redisbus mirrors runner updates onto Redis pub/sub so processes
// outside runnerd can follow a runner.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/mattjoyce/runnerd/internal/runner"
)

const (
	DefaultPrefix  = "runnerd:runner:"
	defaultTimeout = 2 * time.Second
)

// Message is the JSON payload published for every update.
type Message struct {
	RunnerID string        `json:"runner_id"`
	Update   runner.Update `json:"update"`
}

// Forwarder publishes updates to "<prefix><runner-id>" and keeps the most
// recent one under "<prefix><runner-id>:last".
type Forwarder struct {
	client  *backend.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Forwarder)

// WithPrefix sets the channel prefix.
func WithPrefix(prefix string) Option {
	return func(f *Forwarder) {
		f.prefix = prefix
	}
}

// WithTTL sets the expiration of the last-update key. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(f *Forwarder) {
		f.ttl = ttl
	}
}

// WithLogger sets the logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// Dial creates a Forwarder with its own client.
func Dial(address, password string, db int, opts ...Option) *Forwarder {
	return New(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// New creates a Forwarder from an existing client.
func New(client *backend.Client, opts ...Option) *Forwarder {
	f := &Forwarder{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Channel returns the pub/sub channel for runnerID.
func (f *Forwarder) Channel(runnerID string) string {
	return f.prefix + runnerID
}

func (f *Forwarder) lastKey(runnerID string) string {
	return f.prefix + runnerID + ":last"
}

// Ping checks connectivity.
func (f *Forwarder) Ping(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (f *Forwarder) Close() error {
	return f.client.Close()
}

// Publish sends one update.
func (f *Forwarder) Publish(ctx context.Context, runnerID string, u runner.Update) error {
	data, err := json.Marshal(Message{RunnerID: runnerID, Update: u})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	pipe := f.client.TxPipeline()
	pipe.Publish(ctx, f.Channel(runnerID), data)
	pipe.Set(ctx, f.lastKey(runnerID), data, f.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Last returns the most recent update published for runnerID.
func (f *Forwarder) Last(ctx context.Context, runnerID string) (*Message, error) {
	data, err := f.client.Get(ctx, f.lastKey(runnerID)).Bytes()
	if err == backend.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode last update: %w", err)
	}
	return &msg, nil
}

// For returns a Receiver that forwards updates for runnerID. Attach it as a
// mirror on the runner.
func (f *Forwarder) For(runnerID string) runner.Receiver {
	return &mirror{f: f, runnerID: runnerID}
}

type mirror struct {
	f        *Forwarder
	runnerID string
}

func (m *mirror) Append(u runner.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), m.f.timeout)
	defer cancel()
	if err := m.f.Publish(ctx, m.runnerID, u); err != nil {
		m.f.logger.Warn("failed to mirror update to redis", "runner_id", m.runnerID, "kind", u.Kind, "error", err)
	}
}
