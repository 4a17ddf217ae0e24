package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix   = "token:"
	currentKeyPrefix = "token:current:"
)

// TokenClaims is the identity a verified ingest token resolves to.
type TokenClaims struct {
	Group    string    `json:"group"`
	Host     string    `json:"host"`
	IssuedAt time.Time `json:"issued_at"`
}

// TokenRepository issues, verifies and rotates per-device ingest
// tokens. Only the SHA-256 of a token is stored; the plaintext is
// returned exactly once, at issuance.
type TokenRepository interface {
	Issue(ctx context.Context, group, host string) (string, error)
	// Verify returns nil, nil for an unknown token.
	Verify(ctx context.Context, token string) (*TokenClaims, error)
	Rotate(ctx context.Context, group, host string) (string, error)
	Revoke(ctx context.Context, group, host string) error
}

type RedisTokenRepository struct {
	client *redis.Client
}

func NewRedisTokenRepository(client *redis.Client) *RedisTokenRepository {
	return &RedisTokenRepository{
		client: client,
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *RedisTokenRepository) currentKey(group, host string) string {
	return currentKeyPrefix + group + ":" + host
}

func (r *RedisTokenRepository) Issue(ctx context.Context, group, host string) (string, error) {
	if group == "" || host == "" {
		return "", fmt.Errorf("token: empty group or host")
	}

	token := uuid.NewString()
	hash := hashToken(token)

	claims := TokenClaims{
		Group:    group,
		Host:     host,
		IssuedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(&claims)
	if err != nil {
		return "", err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+hash, b, 0)
	pipe.Set(ctx, r.currentKey(group, host), hash, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (r *RedisTokenRepository) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	if token == "" {
		return nil, nil
	}

	s, err := r.client.Get(ctx, tokenKeyPrefix+hashToken(token)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var claims TokenClaims
	if err := json.Unmarshal([]byte(s), &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (r *RedisTokenRepository) Rotate(ctx context.Context, group, host string) (string, error) {
	if err := r.Revoke(ctx, group, host); err != nil {
		return "", err
	}
	return r.Issue(ctx, group, host)
}

func (r *RedisTokenRepository) Revoke(ctx context.Context, group, host string) error {
	if group == "" || host == "" {
		return fmt.Errorf("token: empty group or host")
	}

	hash, err := r.client.Get(ctx, r.currentKey(group, host)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tokenKeyPrefix+hash)
	pipe.Del(ctx, r.currentKey(group, host))
	_, err = pipe.Exec(ctx)
	return err
}
