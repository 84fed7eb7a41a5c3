package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
)

// Config names the collections and TTLs the store uses, externally
// configurable per §6 ("the core never assumes specific values").
type Config struct {
	MessagesCollection string        `yaml:"messages_collection"`
	DedupCollection    string        `yaml:"dedup_collection"`
	DedupTTL           time.Duration `yaml:"dedup_ttl"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns reasonable collection names and timeouts.
func DefaultConfig() Config {
	return Config{
		MessagesCollection: "aimesh_messages",
		DedupCollection:    "aimesh_dedup",
		DedupTTL:           time.Hour,
		CallTimeout:        2 * time.Second,
	}
}

// ValkeyStore is a Store backed by Valkey, using builder-call command
// construction and a short exponential backoff around transient connection
// failures before giving up and letting the pipeline continue without
// durability.
type ValkeyStore struct {
	client valkey.Client
	config Config
	logger *zap.SugaredLogger
}

// NewValkeyStore wraps an already-connected valkey.Client.
func NewValkeyStore(client valkey.Client, config Config, logger *zap.SugaredLogger) *ValkeyStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ValkeyStore{client: client, config: config, logger: logger}
}

func (s *ValkeyStore) withRetry(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	return backoff.Retry(op, policy)
}

func (s *ValkeyStore) key(collection, id string) string {
	return fmt.Sprintf("%s:%s", collection, id)
}

// WriteMessage persists a message's raw payload for durability. Failures
// are logged and swallowed by callers per §7; this method itself just
// reports the error so the caller can decide.
func (s *ValkeyStore) WriteMessage(collection, messageID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()

	return s.withRetry(func() error {
		err := s.client.Do(ctx, s.client.B().Set().
			Key(s.key(collection, messageID)).
			Value(valkey.BinaryString(payload)).
			Build()).Error()
		if err != nil {
			return &ConnectionError{Cause: err}
		}
		return nil
	})
}

// WriteTaskState persists a dispatch outcome for a message.
func (s *ValkeyStore) WriteTaskState(collection string, state TaskState) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()

	encoded := fmt.Sprintf("%s|%s|%s|%f|%s", state.MessageID, state.Endpoint, state.Status, state.TokensUsed, state.Error)
	return s.withRetry(func() error {
		err := s.client.Do(ctx, s.client.B().Set().
			Key(s.key(collection, state.MessageID+":state")).
			Value(encoded).
			Build()).Error()
		if err != nil {
			return &ConnectionError{Cause: err}
		}
		return nil
	})
}

// CheckDedup looks up a dedup fingerprint in the durable store. Any error,
// including a miss, reports (nil, false) — dedup is a cost optimization,
// not a correctness boundary, so a store error here is swallowed rather
// than surfaced.
func (s *ValkeyStore) CheckDedup(fingerprint string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()

	resp := s.client.Do(ctx, s.client.B().Get().Key(s.key(s.config.DedupCollection, fingerprint)).Build())
	if err := resp.Error(); err != nil {
		if !valkey.IsValkeyNil(err) {
			s.logger.Warnw("dedup durable lookup failed", "error", err)
		}
		return nil, false
	}
	bytes, err := resp.AsBytes()
	if err != nil {
		return nil, false
	}
	return bytes, true
}

// WriteDedup persists a fingerprint -> result mapping with the configured
// TTL. Failures are logged, never propagated.
func (s *ValkeyStore) WriteDedup(fingerprint string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()

	err := s.client.Do(ctx, s.client.B().Set().
		Key(s.key(s.config.DedupCollection, fingerprint)).
		Value(valkey.BinaryString(value)).
		Ex(s.config.DedupTTL).
		Build()).Error()
	if err != nil {
		s.logger.Warnw("dedup durable write failed", "error", err)
	}
}

// HealthCheck pings the backing store.
func (s *ValkeyStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()

	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return &ConnectionError{Cause: err}
	}
	return nil
}
