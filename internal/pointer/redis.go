package pointer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"dailybudget/internal/core"
)

// Redis keeps the pointer in a Redis string and announces every write on
// a pub/sub channel so watchers in other processes see it too.
type Redis struct {
	client  redis.UniversalClient
	key     string
	channel string
}

var _ Pointer = (*Redis)(nil)

// NewRedis builds a Redis pointer. prefix namespaces the key and channel.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{
		client:  client,
		key:     prefix + Key,
		channel: prefix + Key + ":changes",
	}
}

func (r *Redis) Read(ctx context.Context) (int64, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return core.NoAccount, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse pointer %q: %w", raw, err)
	}
	return id, nil
}

func (r *Redis) Write(ctx context.Context, id int64) error {
	v := strconv.FormatInt(id, 10)
	if err := r.client.Set(ctx, r.key, v, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	if err := r.client.Publish(ctx, r.channel, v).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Watch(ctx context.Context) (<-chan int64, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed before reading the
	// current value so no publish in between is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	hub := NewHub()
	out, err := hub.Subscribe(ctx, func() (int64, error) { return r.Read(ctx) })
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				id, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				hub.Publish(id)
			}
		}
	}()
	return out, nil
}
