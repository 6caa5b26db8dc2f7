package mq

import (
	"context"
	"fmt"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// MarkerStore is the key-value store holding completion markers.
type MarkerStore interface {
	Exists(ctx context.Context, keys ...string) (int64, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DedupConfig configures Deduplicate.
type DedupConfig struct {
	// Prefix namespaces marker keys. Default: "dedup".
	Prefix string `yaml:"prefix"`
	// TTL bounds how long a processed event id is remembered. Default: 15 minutes.
	TTL time.Duration `yaml:"ttl"`
	// Timeout bounds marker store calls. Default: 2 seconds.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *DedupConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "dedup"
	}
	if c.TTL <= 0 {
		c.TTL = 15 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

// Deduplicate wraps a handler whose side effects are expensive to repeat.
// A completion marker is written only after the handler succeeded; deliveries
// of an event id that already carries one are acknowledged without running
// the handler. A delivery interrupted by a crash leaves no marker, so its
// redelivery runs again. Concurrent deliveries of the same id may both run.
func Deduplicate(store MarkerStore, cfg DedupConfig, handler HandlerFunc) HandlerFunc {
	cfg.setDefaults()
	return func(ctx context.Context, msg *Message) error {
		if store == nil || msg.ID == "" {
			return handler(ctx, msg)
		}
		key := fmt.Sprintf("%s:%s:%s", cfg.Prefix, msg.Topic, msg.ID)

		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		n, err := store.Exists(checkCtx, key)
		cancel()
		if err != nil {
			// Store outage: fail the delivery so the bus retries later.
			return fmt.Errorf("check dedup marker failed: %w", err)
		}
		if n > 0 {
			metrics.BusDuplicates.WithLabelValues(msg.Topic).Inc()
			logger.Info(ctx, "duplicate event skipped", zap.String("topic", msg.Topic), zap.String("message_id", msg.ID))
			return nil
		}

		if err := handler(ctx, msg); err != nil {
			return err
		}

		markCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if err := store.Set(markCtx, key, "done", cfg.TTL); err != nil {
			logger.Warn(ctx, "write dedup marker failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
}
