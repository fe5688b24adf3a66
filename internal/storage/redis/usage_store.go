package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

var addUsage = redis.NewScript(addUsageScript)

type usageStore struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
}

// GetDay returns the usage accumulated on date
func (s *usageStore) GetDay(ctx context.Context, date string) (storage.UsageRecord, error) {
	pipe := s.client.Pipeline()
	timeCmd := pipe.HGetAll(ctx, s.keys.usageTime(date))
	visitsCmd := pipe.HGetAll(ctx, s.keys.usageVisits(date))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	times, err := timeCmd.Result()
	if err != nil {
		return nil, err
	}
	visits, err := visitsCmd.Result()
	if err != nil {
		return nil, err
	}

	record := make(storage.UsageRecord, len(times))
	for domain, raw := range times {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse time of %s: %w", domain, err)
		}
		entry := storage.DomainUsage{TimeMS: ms}
		if v, ok := visits[domain]; ok {
			entry.Visits, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse visits of %s: %w", domain, err)
			}
		}
		record[domain] = entry
	}

	return record, nil
}

// AddUsage atomically adds elapsedMS and one visit to domain on date
func (s *usageStore) AddUsage(ctx context.Context, date, domain string, elapsedMS int64) error {
	keys := []string{s.keys.usageTime(date), s.keys.usageVisits(date)}
	args := []interface{}{domain, elapsedMS, int64(s.ttl / time.Second)}

	return addUsage.Run(ctx, s.client, keys, args...).Err()
}

// DeleteBefore removes usage of days before cutoffDate. Keys also carry a
// TTL, so this mostly catches records written before retention changed.
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	return deleteDatedBefore(ctx, s.client, s.keys.prefix+storage.UsageKey("*"), cutoffDate)
}
