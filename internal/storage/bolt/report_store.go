package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/kidswatch/internal/storage"
	"go.etcd.io/bbolt"
)

type reportStore struct {
	db *bbolt.DB
}

// Put writes the record and lastReportDate in a single transaction.
func (s *reportStore) Put(ctx context.Context, record storage.ReportRecord) error {
	data, err := marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reports := tx.Bucket([]byte(bucketReports))
		meta := tx.Bucket([]byte(bucketMeta))
		if reports == nil || meta == nil {
			return fmt.Errorf("report buckets missing")
		}
		if err := reports.Put([]byte(storage.ReportKey(record.Date)), data); err != nil {
			return err
		}
		return meta.Put([]byte(storage.KeyLastReportDate), []byte(record.Date))
	})
}

func (s *reportStore) Get(ctx context.Context, date string) (*storage.ReportRecord, error) {
	return getBucketValue[storage.ReportRecord](ctx, s.db, bucketReports, storage.ReportKey(date))
}

// List walks the report bucket backwards; date keys sort chronologically.
func (s *reportStore) List(ctx context.Context, limit int) ([]storage.ReportRecord, error) {
	var records []storage.ReportRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketReports))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if _, ok := storage.DateFromKey(string(k)); !ok {
				continue
			}
			var record storage.ReportRecord
			if err := unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode %s: %w", k, err)
			}
			records = append(records, record)
			if limit > 0 && len(records) == limit {
				break
			}
		}
		return nil
	})
	return records, err
}

func (s *reportStore) LastReportDate(ctx context.Context) (string, error) {
	var date string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketMeta))
		if b == nil {
			return nil
		}
		date = string(b.Get([]byte(storage.KeyLastReportDate)))
		return nil
	})
	return date, err
}

func (s *reportStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	return deleteDatedBefore(ctx, s.db, bucketReports, cutoffDate)
}
