package bolt

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/kidswatch/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetDay(ctx context.Context, date string) (storage.UsageRecord, error) {
	record, err := getBucketValue[storage.UsageRecord](ctx, s.db, bucketUsage, storage.UsageKey(date))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.UsageRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return *record, nil
}

func (s *usageStore) AddUsage(ctx context.Context, date, domain string, elapsedMS int64) error {
	key := []byte(storage.UsageKey(date))
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("usage bucket missing")
		}

		record := storage.UsageRecord{}
		if existing := b.Get(key); existing != nil {
			if err := unmarshal(existing, &record); err != nil {
				return err
			}
		}

		entry := record[domain]
		entry.TimeMS += elapsedMS
		entry.Visits++
		record[domain] = entry

		data, err := marshal(record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	return deleteDatedBefore(ctx, s.db, bucketUsage, cutoffDate)
}
