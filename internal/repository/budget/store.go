// Package budget persists per-period meter counters in Redis.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/voicerag/internal/db"
)

// kv is the slice of the DB facade the counters need.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Counters stores one integer per meter and period key.
// A key expires ttl after its first write; later writes keep that deadline.
type Counters struct {
	kv kv
}

// New creates counters on top of a DB store.
func New(s kv) *Counters {
	return &Counters{kv: s}
}

// Add increments key by n and starts its expiry on first write.
func (c *Counters) Add(ctx context.Context, key string, n int64, ttl time.Duration) error {
	if err := c.kv.IncrBy(ctx, key, n); err != nil {
		return fmt.Errorf("counter %s: %w", key, err)
	}
	if ttl <= 0 {
		return nil
	}
	if err := c.kv.Expire(ctx, key, ttl, true); err != nil {
		return fmt.Errorf("counter %s expiry: %w", key, err)
	}
	return nil
}

// Load returns the counter value; a missing key is zero.
func (c *Counters) Load(ctx context.Context, key string) (int64, error) {
	data, err := c.kv.Get(ctx, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: malformed value %q: %w", key, data, err)
	}
	return n, nil
}
