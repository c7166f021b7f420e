// Package cache keeps the newest reading of each kind in Redis so the
// "current conditions" view does not scan the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DroneTales/GreenHouse/shared/types"
)

const (
	keyPrefix = "greenhouse:latest:"

	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// LatestCache stores at most one reading per kind.
type LatestCache interface {
	Set(ctx context.Context, r types.Reading) error
	// Get returns the cached readings for kinds, skipping kinds with no entry.
	Get(ctx context.Context, kinds []types.Kind) ([]types.Reading, error)
	Enabled() bool
	Close() error
}

// setIfNewer never lets a redelivered or late message overwrite a newer value.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts_ms')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'ts_ms', ARGV[1], 'value', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and verifies it with PING. An empty address returns
// a disabled cache.
func New(ctx context.Context, opts Options) (LatestCache, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return Noop{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &redisCache{client: client, ttl: opts.TTL}, nil
}

func (c *redisCache) Set(ctx context.Context, r types.Reading) error {
	ts, value := encode(r)
	err := setIfNewer.Run(ctx, c.client, []string{key(r.Kind)}, ts, value, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", r.Kind, err)
	}
	return nil
}

func (c *redisCache) Get(ctx context.Context, kinds []types.Kind) ([]types.Reading, error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(kinds))
	for i, k := range kinds {
		cmds[i] = pipe.HGetAll(ctx, key(k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	out := make([]types.Reading, 0, len(kinds))
	for i, k := range kinds {
		r, ok, err := decode(k, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *redisCache) Enabled() bool { return true }

func (c *redisCache) Close() error { return c.client.Close() }

// Noop is the cache used when Redis is not configured.
type Noop struct{}

func (Noop) Set(context.Context, types.Reading) error { return nil }

func (Noop) Get(context.Context, []types.Kind) ([]types.Reading, error) { return nil, nil }

func (Noop) Enabled() bool { return false }

func (Noop) Close() error { return nil }

func key(k types.Kind) string {
	return keyPrefix + strconv.Itoa(int(k))
}

func encode(r types.Reading) (tsMs string, value string) {
	return strconv.FormatInt(r.Time.UnixMilli(), 10), strconv.FormatFloat(r.Value, 'g', -1, 64)
}

func decode(k types.Kind, fields map[string]string) (types.Reading, bool, error) {
	if len(fields) == 0 {
		return types.Reading{}, false, nil
	}
	ts, err := strconv.ParseInt(fields["ts_ms"], 10, 64)
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("redis entry %s: bad ts_ms %q", key(k), fields["ts_ms"])
	}
	v, err := strconv.ParseFloat(fields["value"], 64)
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("redis entry %s: bad value %q", key(k), fields["value"])
	}
	return types.Reading{Time: time.UnixMilli(ts).UTC(), Kind: k, Value: v}, true, nil
}
