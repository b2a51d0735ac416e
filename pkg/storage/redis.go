package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/eduguest/guestidp/pkg/model"
)

const (
	authnRequestKeyPrefix = "authnreq:"
	authnRequestHashIndex = "authnreq:hash:"
)

// RedisAuthnRequestStore keeps pending exchanges in Redis. Exchange records
// are one-hour-lived by nature, so the store leans on Redis TTLs: records
// vanish at their expiry timestamp and reads never see stale exchanges.
type RedisAuthnRequestStore struct {
	client *redis.Client
	now    func() time.Time

	// RememberMeTTL keeps remember-me exchanges alive beyond their login
	// window so the cookie value keeps resolving.
	RememberMeTTL time.Duration
}

// DefaultRememberMeTTL matches the default remember-me cookie max age.
const DefaultRememberMeTTL = 180 * 24 * time.Hour

// NewRedisAuthnRequestStore connects to Redis and verifies the connection.
func NewRedisAuthnRequestStore(cfg Config) (*RedisAuthnRequestStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisAuthnRequestStore{client: client, now: time.Now}, nil
}

// NewRedisAuthnRequestStoreWithClient wraps an existing client; used by tests.
func NewRedisAuthnRequestStoreWithClient(client *redis.Client) *RedisAuthnRequestStore {
	return &RedisAuthnRequestStore{client: client, now: time.Now}
}

// Client exposes the underlying connection for health checking.
func (s *RedisAuthnRequestStore) Client() *redis.Client {
	return s.client
}

// Create stores a fresh exchange with a TTL matching its expiry.
func (s *RedisAuthnRequestStore) Create(ctx context.Context, pending model.PendingRequest) (model.PendingRequest, error) {
	if err := s.write(ctx, pending); err != nil {
		return model.PendingRequest{}, err
	}
	return pending, nil
}

// FindByID loads an exchange by id.
func (s *RedisAuthnRequestStore) FindByID(ctx context.Context, id string) (model.PendingRequest, error) {
	data, err := s.client.Get(ctx, authnRequestKeyPrefix+id).Result()
	if err == redis.Nil {
		return model.PendingRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PendingRequest{}, fmt.Errorf("redis get failed: %w", err)
	}
	var pending model.PendingRequest
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return model.PendingRequest{}, fmt.Errorf("failed to unmarshal authentication request: %w", err)
	}
	return pending, nil
}

// ConsumeByHash resolves a completion key at most once. GETDEL on the hash
// index is the atomic step: of two concurrent completions only one sees the
// indexed id, the other gets a miss.
func (s *RedisAuthnRequestStore) ConsumeByHash(ctx context.Context, hash string) (model.PendingRequest, error) {
	if hash == "" {
		return model.PendingRequest{}, ErrNotFound
	}
	id, err := s.client.GetDel(ctx, authnRequestHashIndex+hash).Result()
	if err == redis.Nil {
		return model.PendingRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PendingRequest{}, fmt.Errorf("redis getdel failed: %w", err)
	}
	pending, err := s.FindByID(ctx, id)
	if err != nil {
		return model.PendingRequest{}, err
	}
	pending = pending.Consumed()
	if err := s.write(ctx, pending); err != nil {
		return model.PendingRequest{}, err
	}
	return pending, nil
}

// Update replaces a stored exchange and re-indexes its completion key.
func (s *RedisAuthnRequestStore) Update(ctx context.Context, pending model.PendingRequest) error {
	exists, err := s.client.Exists(ctx, authnRequestKeyPrefix+pending.ID).Result()
	if err != nil {
		return fmt.Errorf("redis exists failed: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.write(ctx, pending)
}

// DeleteExpired is a no-op: Redis evicts expired exchanges on its own.
func (s *RedisAuthnRequestStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisAuthnRequestStore) write(ctx context.Context, pending model.PendingRequest) error {
	ttl := pending.ExpiresAt.Sub(s.now())
	if pending.RememberMe {
		rememberTTL := s.RememberMeTTL
		if rememberTTL == 0 {
			rememberTTL = DefaultRememberMeTTL
		}
		if rememberTTL > ttl {
			ttl = rememberTTL
		}
	}
	if ttl <= 0 {
		return ErrNotFound
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal authentication request: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, authnRequestKeyPrefix+pending.ID, data, ttl)
	if pending.Hash != "" {
		pipe.Set(ctx, authnRequestHashIndex+pending.Hash, pending.ID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
