package bolt

import (
	"context"

	"github.com/goodtune/kidswatch/internal/storage"
	"go.etcd.io/bbolt"
)

type settingsStore struct {
	db *bbolt.DB
}

func (s *settingsStore) Get(ctx context.Context) (*storage.Settings, error) {
	return getBucketValue[storage.Settings](ctx, s.db, bucketSettings, storage.KeySettings)
}

func (s *settingsStore) Put(ctx context.Context, settings storage.Settings) error {
	return putBucketValue(ctx, s.db, bucketSettings, storage.KeySettings, settings)
}

func (s *settingsStore) GetEmailConfig(ctx context.Context) (*storage.EmailConfig, error) {
	return getBucketValue[storage.EmailConfig](ctx, s.db, bucketSettings, storage.KeyEmailConfig)
}

func (s *settingsStore) PutEmailConfig(ctx context.Context, cfg storage.EmailConfig) error {
	return putBucketValue(ctx, s.db, bucketSettings, storage.KeyEmailConfig, cfg)
}

func (s *settingsStore) DeleteEmailConfig(ctx context.Context) error {
	return deleteBucketValue(ctx, s.db, bucketSettings, storage.KeyEmailConfig)
}
