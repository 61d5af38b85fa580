package enforcer

import (
	"context"
	"errors"

	"ispbss/pkg/config"
	"ispbss/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists the raw held token so a restarted instance resumes
// without pulling.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, raw string) error
}

type redisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, cfg *config.Config) TokenStore {
	return &redisStore{rdb: rdb, key: rediskey.BuildHeldLicenseKey(cfg.Instance.TenantID)}
}

func (s *redisStore) Load(ctx context.Context) (string, error) {
	raw, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return raw, err
}

func (s *redisStore) Save(ctx context.Context, raw string) error {
	return s.rdb.Set(ctx, s.key, raw, 0).Err()
}
