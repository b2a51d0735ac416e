// Package storage provides the persistence contracts for the guest identity
// provider: the pending authentication-request store and the user store,
// with postgres, redis and in-memory implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eduguest/guestidp/pkg/model"
)

// ErrNotFound is returned when a record does not exist, is expired, or a
// one-time key was already consumed.
var ErrNotFound = errors.New("storage: not found")

// AuthnRequestStore persists pending authentication exchanges.
type AuthnRequestStore interface {
	// Create persists a fresh exchange and returns the stored copy. The
	// returned record, not the argument, is the one used downstream.
	Create(ctx context.Context, pending model.PendingRequest) (model.PendingRequest, error)

	// FindByID loads an exchange by its id, expired or not. Remember-me
	// lookups reference completed exchanges well past their expiry window.
	FindByID(ctx context.Context, id string) (model.PendingRequest, error)

	// ConsumeByHash atomically resolves and invalidates a one-time
	// completion key. A second call with the same key, or a call past the
	// exchange's expiry, returns ErrNotFound.
	ConsumeByHash(ctx context.Context, hash string) (model.PendingRequest, error)

	// Update replaces a stored exchange.
	Update(ctx context.Context, pending model.PendingRequest) error

	// DeleteExpired removes exchanges past their expiry timestamp. Expiry
	// is enforced at read time; this is auxiliary cleanup only.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// UserStore persists guest users.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUID(ctx context.Context, uid string) (*model.User, error)
	FindByEduID(ctx context.Context, eduID string) (*model.User, error)
	FindByEnrollmentVerificationKey(ctx context.Context, key string) (*model.User, error)
	Save(ctx context.Context, user *model.User) error
}

// Config for the storage backends.
type Config struct {
	Type string // "postgres", "redis" (pending requests only) or "memory"

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns the storage defaults.
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 25,
		PostgresTimeout:  5 * time.Second,
	}
}
