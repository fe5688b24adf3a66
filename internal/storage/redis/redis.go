package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kidswatch/internal/config"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "kidswatch:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	settingsStore *settingsStore
	usageStore    *usageStore
	reportStore   *reportStore
}

// Open creates a new Redis-backed storage instance. Usage and report keys
// expire after retention; zero disables expiry.
func Open(cfg config.RedisConfig, retention time.Duration) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	k := keyspace{prefix: prefix}

	return &Store{
		client:        client,
		settingsStore: &settingsStore{client: client, keys: k},
		usageStore:    &usageStore{client: client, keys: k, ttl: retention},
		reportStore:   &reportStore{client: client, keys: k, ttl: retention},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Settings returns the SettingsStore implementation
func (s *Store) Settings() storage.SettingsStore {
	return s.settingsStore
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Reports returns the ReportStore implementation
func (s *Store) Reports() storage.ReportStore {
	return s.reportStore
}
