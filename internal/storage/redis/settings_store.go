package redis

import (
	"context"
	"encoding/json"

	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

type settingsStore struct {
	client *redis.Client
	keys   keyspace
}

// Get returns the stored settings or storage.ErrNotFound
func (s *settingsStore) Get(ctx context.Context) (*storage.Settings, error) {
	var settings storage.Settings
	if err := getJSON(ctx, s.client, s.keys.settings(), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Put replaces the stored settings
func (s *settingsStore) Put(ctx context.Context, settings storage.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keys.settings(), data, 0).Err()
}

// GetEmailConfig returns the stored EmailJS identifiers or storage.ErrNotFound
func (s *settingsStore) GetEmailConfig(ctx context.Context) (*storage.EmailConfig, error) {
	var cfg storage.EmailConfig
	if err := getJSON(ctx, s.client, s.keys.emailConfig(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PutEmailConfig replaces the stored EmailJS identifiers
func (s *settingsStore) PutEmailConfig(ctx context.Context, cfg storage.EmailConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keys.emailConfig(), data, 0).Err()
}

// DeleteEmailConfig removes the stored EmailJS identifiers
func (s *settingsStore) DeleteEmailConfig(ctx context.Context) error {
	return s.client.Del(ctx, s.keys.emailConfig()).Err()
}
