package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	deviceKeyPrefix  = "device:"
	groupIndexPrefix = "device:index:"
)

type Repository interface {
	List(ctx context.Context, group string) ([]*Device, error)
	Get(ctx context.Context, group, host string) (*Device, error)
	Save(ctx context.Context, d *Device) error
	Delete(ctx context.Context, group, host string) error
}

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

func (r *RedisRepository) key(group, host string) string {
	return deviceKeyPrefix + group + ":" + host
}

func (r *RedisRepository) indexKey(group string) string {
	return groupIndexPrefix + group
}

func (r *RedisRepository) List(ctx context.Context, group string) ([]*Device, error) {
	if group == "" {
		return nil, fmt.Errorf("device: empty group")
	}

	hosts, err := r.client.SMembers(ctx, r.indexKey(group)).Result()
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return []*Device{}, nil
	}

	keys := make([]string, len(hosts))
	for i, host := range hosts {
		keys[i] = r.key(group, host)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*Device, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("device: invalid value type")
		}
		var d Device
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, err
		}
		res = append(res, &d)
	}
	return res, nil
}

func (r *RedisRepository) Get(ctx context.Context, group, host string) (*Device, error) {
	if group == "" || host == "" {
		return nil, fmt.Errorf("device: empty group or host")
	}

	s, err := r.client.Get(ctx, r.key(group, host)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var d Device
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *RedisRepository) Save(ctx context.Context, d *Device) error {
	if d == nil {
		return fmt.Errorf("device: nil device")
	}
	if d.Group == "" || d.Host == "" {
		return fmt.Errorf("device: empty group or host")
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now().UTC()
	}

	b, err := json.Marshal(d)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(d.Group, d.Host), b, 0)
	pipe.SAdd(ctx, r.indexKey(d.Group), d.Host)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Delete(ctx context.Context, group, host string) error {
	if group == "" || host == "" {
		return fmt.Errorf("device: empty group or host")
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(group, host))
	pipe.SRem(ctx, r.indexKey(group), host)

	_, err := pipe.Exec(ctx)
	return err
}
