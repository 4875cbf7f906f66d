package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const (
	keyPrefix         = "watchtower:chat:"
	connectionTimeout = 5 * time.Second
)

// Redis stores history as one capped list per user. Lists expire after ttl
// of inactivity; zero keeps them forever.
type Redis struct {
	client *redis.Client
	cap    int
	ttl    time.Duration
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedis returns a Store on client keeping up to limit turns per user.
func NewRedis(client *redis.Client, limit int, ttl time.Duration) *Redis {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Redis{client: client, cap: limit, ttl: ttl}
}

func key(user int64) string {
	return keyPrefix + strconv.FormatInt(user, 10)
}

// Append pushes turns and trims the list to the cap in one pipeline.
func (r *Redis) Append(ctx context.Context, user int64, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	vals := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		vals = append(vals, b)
	}

	k := key(user)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, vals...)
		p.LTrim(ctx, k, int64(-r.cap), -1)
		if r.ttl > 0 {
			p.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the user's turns, oldest first.
func (r *Redis) History(ctx context.Context, user int64) ([]Turn, error) {
	raw, err := r.client.LRange(ctx, key(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]Turn, 0, len(raw))
	for _, s := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Clear deletes the user's history.
func (r *Redis) Clear(ctx context.Context, user int64) error {
	if err := r.client.Del(ctx, key(user)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
