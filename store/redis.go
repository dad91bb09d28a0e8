package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adamwoolhether/forge/auth"
)

const defaultRedisPrefix = "forge:credentials:"

// Redis shares credentials between processes through a redis server. Keys
// carry no TTL; the session's lifetime is governed by the API.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the server described by cfg and verifies it answers.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("pinging redis: %w", err), client.Close())
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) LoadAuth(ctx context.Context) (*auth.Record, error) {
	data, err := r.get(ctx, keyAuth)
	if err != nil {
		return nil, err
	}
	return decode[auth.Record](data)
}

func (r *Redis) SaveAuth(ctx context.Context, rec *auth.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return r.put(ctx, keyAuth, data)
}

func (r *Redis) LoadIdentity(ctx context.Context) (string, error) {
	data, err := r.get(ctx, keyIdentity)
	return string(data), err
}

func (r *Redis) SaveIdentity(ctx context.Context, identity string) error {
	return r.put(ctx, keyIdentity, []byte(identity))
}

func (r *Redis) LoadProfile(ctx context.Context) (*auth.Profile, error) {
	data, err := r.get(ctx, keyProfile)
	if err != nil {
		return nil, err
	}
	return decode[auth.Profile](data)
}

func (r *Redis) SaveProfile(ctx context.Context, p *auth.Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	return r.put(ctx, keyProfile, data)
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.prefix+key, err)
	}

	return data, nil
}

func (r *Redis) put(ctx context.Context, key string, data []byte) error {
	if len(data) == 0 {
		if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
			return fmt.Errorf("del %s: %w", r.prefix+key, err)
		}
		return nil
	}

	if err := r.client.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.prefix+key, err)
	}

	return nil
}
