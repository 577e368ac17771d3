package resque

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "resque:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	URL       string
	Password  string
	DB        int
	Prefix    string
	TLSConfig *tls.Config

	// existingClient allows injecting a pre-configured *redis.Client,
	// bypassing the built-in connection setup. When set, Addr, URL,
	// Password, DB, and TLSConfig are ignored (only Prefix is still used).
	existingClient *redis.Client
}

// RedisClient wraps a go-redis client. Every key-taking call is
// transparently namespaced with the configured prefix, and every failure
// talking to Redis comes back as a *StorageError.
type RedisClient struct {
	rdb     *redis.Client
	prefix  string
	owned   bool // true if we created the client (and should close it)
	scripts *scriptRegistry
}

// NewRedisClient creates a new RedisClient with the given options.
func NewRedisClient(opts ...RedisOption) (*RedisClient, error) {
	cfg := &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	rdb := cfg.existingClient
	owned := rdb == nil
	if rdb == nil {
		ropts := &redis.Options{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			TLSConfig: cfg.TLSConfig,
		}
		if cfg.URL != "" {
			parsed, err := redis.ParseURL(cfg.URL)
			if err != nil {
				return nil, fmt.Errorf("parsing redis url: %w", err)
			}
			if cfg.Password != "" {
				parsed.Password = cfg.Password
			}
			if cfg.DB != 0 {
				parsed.DB = cfg.DB
			}
			if cfg.TLSConfig != nil {
				parsed.TLSConfig = cfg.TLSConfig
			}
			ropts = parsed
		}
		rdb = redis.NewClient(ropts)
	}

	sr := newScriptRegistry()
	if err := sr.load(); err != nil {
		if owned {
			rdb.Close()
		}
		return nil, fmt.Errorf("loading lua scripts: %w", err)
	}

	return &RedisClient{
		rdb:     rdb,
		prefix:  normalizePrefix(cfg.Prefix),
		owned:   owned,
		scripts: sr,
	}, nil
}

// normalizePrefix makes sure a non-empty namespace ends with a colon.
func normalizePrefix(p string) string {
	if p != "" && !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

// Ping checks the Redis connection.
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.wrap("ping", rc.rdb.Ping(ctx).Err())
}

// Close closes the underlying Redis connection. If the client was
// injected via WithRedisClient, Close is a no-op.
func (rc *RedisClient) Close() error {
	if !rc.owned {
		return nil
	}
	return rc.rdb.Close()
}

// Key returns a prefixed Redis key built from colon-joined parts.
func (rc *RedisClient) Key(parts ...string) string {
	return rc.prefix + strings.Join(parts, ":")
}

// Unwrap returns the underlying go-redis client for advanced operations.
func (rc *RedisClient) Unwrap() *redis.Client {
	return rc.rdb
}

// Prefix returns the key prefix used by this client.
func (rc *RedisClient) Prefix() string {
	return rc.prefix
}

// RemovePrefix strips the namespace from a fully qualified key.
func (rc *RedisClient) RemovePrefix(key string) string {
	return strings.TrimPrefix(key, rc.prefix)
}

// wrap converts a go-redis failure into a *StorageError. redis.Nil is not a
// failure and is passed through untouched for callers to translate.
func (rc *RedisClient) wrap(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Get returns the value of key and whether it exists.
func (rc *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := rc.rdb.Get(ctx, rc.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, rc.wrap("get", err)
	}
	return v, true, nil
}

// Set stores value under key. A zero ttl means no expiry.
func (rc *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return rc.wrap("set", rc.rdb.Set(ctx, rc.Key(key), value, ttl).Err())
}

// SetNX stores value only when key does not exist yet, expiring after ttl.
// It reports whether this call created the key.
func (rc *RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	ok, err := rc.rdb.SetNX(ctx, rc.Key(key), value, ttl).Result()
	if err != nil {
		return false, rc.wrap("set nx", err)
	}
	return ok, nil
}

// Del removes keys and returns how many existed.
func (rc *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = rc.Key(k)
	}
	n, err := rc.rdb.Del(ctx, full...).Result()
	return n, rc.wrap("del", err)
}

// Exists reports whether key is present.
func (rc *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := rc.rdb.Exists(ctx, rc.Key(key)).Result()
	if err != nil {
		return false, rc.wrap("exists", err)
	}
	return n > 0, nil
}

// IncrBy increments the integer stored at key.
func (rc *RedisClient) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	n, err := rc.rdb.IncrBy(ctx, rc.Key(key), by).Result()
	return n, rc.wrap("incrby", err)
}

// SAdd adds members to the set at key.
func (rc *RedisClient) SAdd(ctx context.Context, key string, members ...any) error {
	return rc.wrap("sadd", rc.rdb.SAdd(ctx, rc.Key(key), members...).Err())
}

// SRem removes members from the set at key.
func (rc *RedisClient) SRem(ctx context.Context, key string, members ...any) error {
	return rc.wrap("srem", rc.rdb.SRem(ctx, rc.Key(key), members...).Err())
}

// SMembers returns all members of the set at key.
func (rc *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	m, err := rc.rdb.SMembers(ctx, rc.Key(key)).Result()
	return m, rc.wrap("smembers", err)
}

// SIsMember reports whether member belongs to the set at key.
func (rc *RedisClient) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	ok, err := rc.rdb.SIsMember(ctx, rc.Key(key), member).Result()
	return ok, rc.wrap("sismember", err)
}

// RPush appends values to the list at key.
func (rc *RedisClient) RPush(ctx context.Context, key string, values ...any) (int64, error) {
	n, err := rc.rdb.RPush(ctx, rc.Key(key), values...).Result()
	return n, rc.wrap("rpush", err)
}

// LPop removes and returns the head of the list at key.
func (rc *RedisClient) LPop(ctx context.Context, key string) (string, bool, error) {
	v, err := rc.rdb.LPop(ctx, rc.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, rc.wrap("lpop", err)
	}
	return v, true, nil
}

// LPopCount removes and returns up to count elements from the head of the
// list at key.
func (rc *RedisClient) LPopCount(ctx context.Context, key string, count int) ([]string, error) {
	v, err := rc.rdb.LPopCount(ctx, rc.Key(key), count).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return v, rc.wrap("lpop", err)
}

// BLPop blocks until one of keys has an element or timeout elapses. Keys are
// checked in the order given. The returned key has the prefix removed.
func (rc *RedisClient) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, bool, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = rc.Key(k)
	}
	res, err := rc.rdb.BLPop(ctx, timeout, full...).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, rc.wrap("blpop", err)
	}
	if len(res) != 2 {
		return "", "", false, nil
	}
	return rc.RemovePrefix(res[0]), res[1], true, nil
}

// LLen returns the length of the list at key.
func (rc *RedisClient) LLen(ctx context.Context, key string) (int64, error) {
	n, err := rc.rdb.LLen(ctx, rc.Key(key)).Result()
	return n, rc.wrap("llen", err)
}

// LRange returns list elements between start and stop inclusive.
func (rc *RedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := rc.rdb.LRange(ctx, rc.Key(key), start, stop).Result()
	return v, rc.wrap("lrange", err)
}

// ZRangeByScore returns up to count members with min <= score <= max,
// ordered by ascending score.
func (rc *RedisClient) ZRangeByScore(ctx context.Context, key, min, max string, count int64) ([]string, error) {
	v, err := rc.rdb.ZRangeByScore(ctx, rc.Key(key), &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: count,
	}).Result()
	return v, rc.wrap("zrangebyscore", err)
}

// ZCard returns the number of members of the sorted set at key.
func (rc *RedisClient) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := rc.rdb.ZCard(ctx, rc.Key(key)).Result()
	return n, rc.wrap("zcard", err)
}

// runScript executes a named embedded Lua script with prefixed keys.
func (rc *RedisClient) runScript(ctx context.Context, name string, keys []string, args ...any) *redis.Cmd {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = rc.Key(k)
	}
	return rc.scripts.run(ctx, rc.rdb, name, full, args...)
}

// RedisOption configures a RedisConfig.
type RedisOption func(*RedisConfig)

// WithRedisAddr sets the Redis server address.
func WithRedisAddr(addr string) RedisOption {
	return func(cfg *RedisConfig) { cfg.Addr = addr }
}

// WithRedisURL sets a redis:// or rediss:// connection URL. It takes
// precedence over WithRedisAddr and WithRedisPassword.
func WithRedisURL(url string) RedisOption {
	return func(cfg *RedisConfig) { cfg.URL = url }
}

// WithRedisPassword sets the Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(cfg *RedisConfig) { cfg.Password = password }
}

// WithRedisDB sets the Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(cfg *RedisConfig) { cfg.DB = db }
}

// WithPrefix sets the key namespace. A trailing colon is added when missing.
func WithPrefix(prefix string) RedisOption {
	return func(cfg *RedisConfig) { cfg.Prefix = prefix }
}

// WithRedisTLS enables TLS for the Redis connection. Pass nil for default TLS
// configuration (system CA pool).
func WithRedisTLS(tc *tls.Config) RedisOption {
	return func(cfg *RedisConfig) {
		if tc == nil {
			tc = &tls.Config{} //nolint:gosec // empty = system CA pool
		}
		cfg.TLSConfig = tc
	}
}

// WithRedisClient injects a pre-configured *redis.Client. The caller keeps
// ownership and must close it.
func WithRedisClient(rdb *redis.Client) RedisOption {
	return func(cfg *RedisConfig) { cfg.existingClient = rdb }
}
