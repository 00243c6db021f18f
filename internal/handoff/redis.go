package handoff

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fastvote/internal/config"
	"fastvote/internal/domain"
)

// Redis commits the encoded record under prefix+key with SET NX. A second
// commit of an identical record succeeds; a different record under the same
// key is refused.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg config.RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (r *Redis) Commit(ctx context.Context, _ *sql.Tx, a domain.Action) error {
	key := r.prefix + a.Key.String()
	record := domain.EncodeAction(a)
	ok, err := r.client.SetNX(ctx, key, record, 0).Result()
	if err != nil {
		return fmt.Errorf("redis commit %s: %w", key, err)
	}
	if ok {
		return nil
	}
	existing, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("redis read back %s: %w", key, err)
	}
	if !bytes.Equal(existing, record) {
		return fmt.Errorf("redis commit %s: conflicting record already committed", key)
	}
	return nil
}

// Fetch returns the committed record for an action key.
func (r *Redis) Fetch(ctx context.Context, key domain.Key) (domain.Action, error) {
	data, err := r.client.Get(ctx, r.prefix+key.String()).Bytes()
	if err != nil {
		return domain.Action{}, err
	}
	return domain.DecodeAction(data)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
