package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/biomerkin-io/resilience-workflow/internal/core/logger"
)

// ErrNotFound is returned by Load when a key was never saved or has expired.
var ErrNotFound = errors.New("state not found")

const writeRetries = 3

// StateStore persists JSON snapshots of workflow state under a shared key
// prefix. It satisfies the orchestrator's StateSink interface.
type StateStore struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

type StoreOption func(*StateStore)

func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *StateStore) {
		s.logger = logger
	}
}

func NewStateStore(client valkey.Client, cfg Config, opts ...StoreOption) *StateStore {
	s := &StateStore{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger.Named("valkey"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save marshals value and writes it under the prefixed key. Transient write
// failures are retried a few times before giving up.
func (s *StateStore) Save(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", key, err)
	}

	full := s.prefix + key
	op := func() error {
		cmd := s.client.B().Set().Key(full).Value(string(payload))
		var built valkey.Completed
		if s.ttl > 0 {
			built = cmd.Ex(s.ttl).Build()
		} else {
			built = cmd.Build()
		}
		return s.client.Do(ctx, built).Error()
	}

	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), writeRetries), ctx))
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}

	s.logger.Debug("state saved",
		zap.String("key", full),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// Load reads the prefixed key into dest.
func (s *StateStore) Load(ctx context.Context, key string, dest any) error {
	full := s.prefix + key
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(full).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("load state %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal state %s: %w", key, err)
	}
	return nil
}
