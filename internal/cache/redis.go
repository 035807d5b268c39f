package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

var _ discount.CacheBackend = (*Redis)(nil)

// Redis stores rule ID lists as JSON arrays so that every API instance shares
// the same cached rule set.
type Redis struct {
	client     *redis.Client
	ownsClient bool
	lg         *zap.Logger
}

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithLogger sets the backend logger.
func WithLogger(lg *zap.Logger) RedisOption {
	return func(r *Redis) {
		r.lg = lg
	}
}

// DialRedis parses a redis:// URL, connects and pings the server.
func DialRedis(ctx context.Context, rawURL string, opts ...RedisOption) (*Redis, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	r := NewRedis(client, opts...)
	r.ownsClient = true
	return r, nil
}

// NewRedis wraps an existing client. The caller keeps ownership of it.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		lg:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get implements discount.CacheBackend. A corrupt value is deleted and
// reported as an error.
func (r *Redis) Get(ctx context.Context, key string) ([]string, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", key)
	}

	ids, err := decodeIDs(data)
	if err != nil {
		r.lg.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = r.client.Del(ctx, key).Err()
		return nil, false, errors.Wrapf(err, "decode %s", key)
	}
	return ids, true, nil
}

// Set implements discount.CacheBackend.
func (r *Redis) Set(ctx context.Context, key string, ids []string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, encodeIDs(ids), ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Delete implements discount.CacheBackend.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// Ping checks connectivity. It is used by the readiness probe.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client if this backend created it.
func (r *Redis) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}

func encodeIDs(ids []string) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ArrStart()
	for _, id := range ids {
		e.Str(id)
	}
	e.ArrEnd()
	return append([]byte(nil), e.Bytes()...)
}

func decodeIDs(data []byte) ([]string, error) {
	ids := make([]string, 0)
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		id, err := d.Str()
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}); err != nil {
		return nil, err
	}
	return ids, nil
}
