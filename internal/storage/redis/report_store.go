package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

type reportStore struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
}

// Put stores a report record and moves lastReportDate in one transaction
func (s *reportStore) Put(ctx context.Context, record storage.ReportRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.report(record.Date), data, s.ttl)
		pipe.Set(ctx, s.keys.lastReportDate(), record.Date, 0)
		return nil
	})
	return err
}

// Get returns the report of date or storage.ErrNotFound
func (s *reportStore) Get(ctx context.Context, date string) (*storage.ReportRecord, error) {
	var record storage.ReportRecord
	if err := getJSON(ctx, s.client, s.keys.report(date), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns up to limit reports, newest first
func (s *reportStore) List(ctx context.Context, limit int) ([]storage.ReportRecord, error) {
	var (
		cursor uint64
		dates  []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keys.prefix+storage.ReportKey("*"), 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if date, ok := dateOfKey(key); ok {
				dates = append(dates, date)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	if len(dates) == 0 {
		return nil, nil
	}

	keys := make([]string, len(dates))
	for i, date := range dates {
		keys[i] = s.keys.report(date)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]storage.ReportRecord, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var record storage.ReportRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
		records = append(records, record)
	}
	return records, nil
}

// LastReportDate returns the date of the most recent report run
func (s *reportStore) LastReportDate(ctx context.Context) (string, error) {
	date, err := s.client.Get(ctx, s.keys.lastReportDate()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return date, err
}

// DeleteBefore removes reports of days before cutoffDate
func (s *reportStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	return deleteDatedBefore(ctx, s.client, s.keys.prefix+storage.ReportKey("*"), cutoffDate)
}
