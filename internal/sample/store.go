package sample

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sampleKeyPrefix  = "sample:"
	indexKeyPrefix   = "sample:index:"
	hostKeySeparator = "\x00"
)

// Store holds timestamped samples keyed by (group, host, kind) and
// answers the time-bounded queries the rule evaluator needs.
type Store interface {
	Append(ctx context.Context, samples []Sample) error
	// QueryRecent returns all samples of one kind newer than now-window,
	// grouped by (group, host).
	QueryRecent(ctx context.Context, kind Kind, window time.Duration) (map[HostKey][]Sample, error)
	// LastContact returns, for every (group, host) that reported the kind
	// within the horizon, the timestamp of its most recent sample.
	LastContact(ctx context.Context, kind Kind, horizon time.Duration) (map[HostKey]time.Time, error)
	// Latest returns the most recent sample of one kind for one device,
	// or nil when the device has never reported it.
	Latest(ctx context.Context, group, host string, kind Kind) (*Sample, error)
	// Prune drops index entries older than the retention period.
	Prune(ctx context.Context, kind Kind) error
}

// RedisStore keeps one sorted set per (group, host, kind), scored by
// sample timestamp, plus a per-kind index sorted set mapping each
// (group, host) to its most recent sample timestamp. The index is what
// lets QueryRecent and LastContact avoid scanning the keyspace.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: retention,
	}
}

func sampleKey(group, host string, kind Kind) string {
	return sampleKeyPrefix + group + ":" + host + ":" + string(kind)
}

func indexKey(kind Kind) string {
	return indexKeyPrefix + string(kind)
}

func indexMember(group, host string) string {
	return group + hostKeySeparator + host
}

func splitIndexMember(member string) (HostKey, bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == 0 {
			return HostKey{Group: member[:i], Host: member[i+1:]}, true
		}
	}
	return HostKey{}, false
}

func (s *RedisStore) Append(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-s.retention)

	pipe := s.client.TxPipeline()
	for i := range samples {
		sm := &samples[i]
		if sm.Group == "" || sm.Host == "" {
			return fmt.Errorf("sample: missing group or host")
		}
		if !sm.Kind.Valid() {
			return fmt.Errorf("sample: unknown kind %q", sm.Kind)
		}

		b, err := json.Marshal(sm)
		if err != nil {
			return err
		}

		key := sampleKey(sm.Group, sm.Host, sm.Kind)
		score := float64(sm.Timestamp.UnixNano())

		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: b})
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
		pipe.Expire(ctx, key, s.retention)

		// GT keeps the index at the newest timestamp even when samples
		// arrive out of order.
		pipe.ZAddGT(ctx, indexKey(sm.Kind), redis.Z{
			Score:  score,
			Member: indexMember(sm.Group, sm.Host),
		})
		pipe.Expire(ctx, indexKey(sm.Kind), s.retention)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) QueryRecent(ctx context.Context, kind Kind, window time.Duration) (map[HostKey][]Sample, error) {
	since := time.Now().Add(-window)

	members, err := s.client.ZRangeByScore(ctx, indexKey(kind), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return map[HostKey][]Sample{}, nil
	}

	keys := make([]HostKey, 0, len(members))
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, 0, len(members))
	for _, m := range members {
		hk, ok := splitIndexMember(m)
		if !ok {
			continue
		}
		keys = append(keys, hk)
		cmds = append(cmds, pipe.ZRangeByScore(ctx, sampleKey(hk.Group, hk.Host, kind), &redis.ZRangeBy{
			Min: fmt.Sprintf("%d", since.UnixNano()),
			Max: "+inf",
		}))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[HostKey][]Sample, len(keys))
	for i, cmd := range cmds {
		raws, err := cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			var sm Sample
			if err := json.Unmarshal([]byte(raw), &sm); err != nil {
				// One corrupt entry must not hide the rest of the window.
				continue
			}
			out[keys[i]] = append(out[keys[i]], sm)
		}
	}
	return out, nil
}

func (s *RedisStore) LastContact(ctx context.Context, kind Kind, horizon time.Duration) (map[HostKey]time.Time, error) {
	since := time.Now().Add(-horizon)

	zs, err := s.client.ZRangeByScoreWithScores(ctx, indexKey(kind), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[HostKey]time.Time, len(zs))
	for _, z := range zs {
		m, ok := z.Member.(string)
		if !ok {
			continue
		}
		hk, ok := splitIndexMember(m)
		if !ok {
			continue
		}
		out[hk] = time.Unix(0, int64(z.Score))
	}
	return out, nil
}

func (s *RedisStore) Latest(ctx context.Context, group, host string, kind Kind) (*Sample, error) {
	raws, err := s.client.ZRevRange(ctx, sampleKey(group, host, kind), 0, 0).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}

	var sm Sample
	if err := json.Unmarshal([]byte(raws[0]), &sm); err != nil {
		return nil, err
	}
	return &sm, nil
}

func (s *RedisStore) Prune(ctx context.Context, kind Kind) error {
	cutoff := time.Now().Add(-s.retention)
	return s.client.ZRemRangeByScore(ctx, indexKey(kind), "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err()
}
