package credstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend is the key/value space the stores write to.
type Backend interface {
	// Get returns ErrKeyNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// SetMany writes every entry atomically: readers see all of them or none.
	SetMany(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// OpenBackend selects a backend from the storage URL scheme:
// memory://, file:///path, redis://host:port/db, sqlite://path, postgres://dsn.
func OpenBackend(ctx context.Context, storageURL string) (Backend, error) {
	if strings.TrimSpace(storageURL) == "" {
		return nil, fmt.Errorf("credstore.open: %w", errEmptyStorageURL)
	}
	parsed, err := url.Parse(storageURL)
	if err != nil {
		return nil, fmt.Errorf("credstore.parse_url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		path := parsed.Path
		if parsed.Opaque != "" {
			path = parsed.Opaque
		}
		if parsed.Host != "" {
			path = parsed.Host + path
		}
		return NewFileBackend(path)
	case "redis", "rediss":
		options, optionsErr := redis.ParseURL(storageURL)
		if optionsErr != nil {
			return nil, fmt.Errorf("credstore.open.redis: %w", optionsErr)
		}
		return NewRedisBackend(redis.NewClient(options), ""), nil
	case "postgres", "postgresql", "sqlite", "sqlite3":
		dialector, driverLabel, dialectErr := OpenDialector(storageURL)
		if dialectErr != nil {
			return nil, dialectErr
		}
		return NewDatabaseBackend(ctx, dialector, driverLabel)
	case "":
		return nil, fmt.Errorf("credstore.open: %w: missing scheme", ErrUnsupportedBackend)
	default:
		return nil, fmt.Errorf("credstore.open.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedBackend)
	}
}

// NewStore builds the store for mode on top of backend.
func NewStore(mode Mode, backend Backend, options ...StoreOption) (SessionStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("credstore.new_store: %w", errNilBackend)
	}
	switch mode {
	case ModeToken, "":
		return NewTokenStore(backend, options...), nil
	case ModeCookie:
		return NewCookieStore(backend, options...), nil
	default:
		return nil, fmt.Errorf("credstore.new_store.%s: %w", mode, ErrUnsupportedMode)
	}
}
