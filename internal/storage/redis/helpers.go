package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	timeSuffix   = ":time"
	visitsSuffix = ":visits"
)

// keyspace builds the Redis keys of one installation.
type keyspace struct {
	prefix string
}

func (k keyspace) settings() string       { return k.prefix + storage.KeySettings }
func (k keyspace) emailConfig() string    { return k.prefix + storage.KeyEmailConfig }
func (k keyspace) lastReportDate() string { return k.prefix + storage.KeyLastReportDate }

func (k keyspace) usageTime(date string) string {
	return k.prefix + storage.UsageKey(date) + timeSuffix
}

func (k keyspace) usageVisits(date string) string {
	return k.prefix + storage.UsageKey(date) + visitsSuffix
}

func (k keyspace) report(date string) string {
	return k.prefix + storage.ReportKey(date)
}

// dateOfKey extracts the date of a usage hash or report key.
func dateOfKey(key string) (string, bool) {
	key = strings.TrimSuffix(key, timeSuffix)
	key = strings.TrimSuffix(key, visitsSuffix)
	return storage.DateFromKey(key)
}

// getJSON loads the JSON value stored at key into dst.
func getJSON(ctx context.Context, client *redis.Client, key string, dst interface{}) error {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// deleteDatedBefore scans keys matching pattern and removes those whose date
// is before cutoff. It returns the number of distinct dates removed.
func deleteDatedBefore(ctx context.Context, client *redis.Client, pattern, cutoff string) (int, error) {
	var cursor uint64
	dates := make(map[string]struct{})

	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return len(dates), err
		}

		toDelete := make([]string, 0, len(keys))
		for _, key := range keys {
			date, ok := dateOfKey(key)
			if !ok || !storage.Before(date, cutoff) {
				continue
			}
			toDelete = append(toDelete, key)
			dates[date] = struct{}{}
		}

		if len(toDelete) > 0 {
			if err := client.Del(ctx, toDelete...).Err(); err != nil {
				return len(dates), err
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return len(dates), nil
}
