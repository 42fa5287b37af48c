package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/openexch/simex/pkg/core"
)

// RedisOptions represents configuration options for the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client from options.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// RedisArchive implements Archive backed by Redis. Terminal orders are
// written as JSON under <prefix>:order:<id>, with a per-client index
// set under <prefix>:client:<client_id>.
type RedisArchive struct {
	client *redis.Client
	prefix string
}

// NewRedisArchive creates a RedisArchive with the given key prefix.
func NewRedisArchive(client *redis.Client, prefix string) *RedisArchive {
	if prefix == "" {
		prefix = "simex"
	}
	return &RedisArchive{client: client, prefix: prefix}
}

func (a *RedisArchive) orderKey(orderID string) string {
	return fmt.Sprintf("%s:order:%s", a.prefix, orderID)
}

func (a *RedisArchive) clientKey(clientID string) string {
	return fmt.Sprintf("%s:client:%s", a.prefix, clientID)
}

// Archive stores a terminal order.
func (a *RedisArchive) Archive(ctx context.Context, order *core.Order) error {
	data, err := json.Marshal(order.View())
	if err != nil {
		return fmt.Errorf("marshaling order %s: %w", order.ID(), err)
	}

	pipe := a.client.TxPipeline()
	pipe.Set(ctx, a.orderKey(order.ID()), data, 0)
	pipe.SAdd(ctx, a.clientKey(order.ClientID()), order.ID())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archiving order %s: %w", order.ID(), err)
	}
	return nil
}

// Load returns an archived order, core.ErrOrderNotFound if absent.
func (a *RedisArchive) Load(ctx context.Context, orderID string) (*core.Order, error) {
	data, err := a.client.Get(ctx, a.orderKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, core.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", orderID, err)
	}

	var v core.View
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding order %s: %w", orderID, err)
	}
	return core.OrderFromView(v)
}

// List returns the archived orders of one client.
func (a *RedisArchive) List(ctx context.Context, clientID string) ([]*core.Order, error) {
	ids, err := a.client.SMembers(ctx, a.clientKey(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing archive for %s: %w", clientID, err)
	}

	out := make([]*core.Order, 0, len(ids))
	for _, id := range ids {
		o, err := a.Load(ctx, id)
		if err != nil {
			// Index entries can outlive expired order keys.
			log.Warn().Str("order_id", id).Err(err).Msg("Skipping unreadable archived order")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (a *RedisArchive) Close() error {
	return a.client.Close()
}
