package latest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetmon/fleetmon/internal/sample"
)

const factKeyPrefix = "latest:"

// Fact is the materialized current value for one (group, host[, subKey])
// and kind. Overwritten on every observation of the same key; expires
// when not refreshed within the liveness window, and that absence is
// itself meaningful: the host or process is presumed stopped.
type Fact struct {
	Group     string         `json:"group"`
	Host      string         `json:"host"`
	Kind      sample.Kind    `json:"kind"`
	SubKey    string         `json:"sub_key,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Cache holds one self-expiring current record per key.
type Cache interface {
	Put(ctx context.Context, f *Fact) error
	// Get returns nil, nil when the fact is absent or has expired.
	Get(ctx context.Context, group, host string, kind sample.Kind, subKey string) (*Fact, error)
}

type RedisCache struct {
	client   *redis.Client
	liveness time.Duration
}

func NewRedisCache(client *redis.Client, liveness time.Duration) *RedisCache {
	return &RedisCache{
		client:   client,
		liveness: liveness,
	}
}

func (c *RedisCache) key(group, host string, kind sample.Kind, subKey string) string {
	k := factKeyPrefix + group + ":" + host + ":" + string(kind)
	if subKey != "" {
		k += ":" + subKey
	}
	return k
}

func (c *RedisCache) Put(ctx context.Context, f *Fact) error {
	if f == nil {
		return fmt.Errorf("latest: nil fact")
	}
	if f.Group == "" || f.Host == "" {
		return fmt.Errorf("latest: missing group or host")
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(f.Group, f.Host, f.Kind, f.SubKey), b, c.liveness).Err()
}

func (c *RedisCache) Get(ctx context.Context, group, host string, kind sample.Kind, subKey string) (*Fact, error) {
	if group == "" || host == "" {
		return nil, fmt.Errorf("latest: missing group or host")
	}

	s, err := c.client.Get(ctx, c.key(group, host, kind, subKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f Fact
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, err
	}
	return &f, nil
}
