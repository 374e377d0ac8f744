package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

const statisticsSchema = `
CREATE TABLE IF NOT EXISTS server_statistics (
	server_id    VARCHAR(36) NOT NULL,
	period       VARCHAR(10) NOT NULL,
	bucket_start TIMESTAMPTZ NOT NULL,
	counter      VARCHAR(32) NOT NULL,
	value        BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (server_id, period, bucket_start, counter)
)`

const incrementBucketSQL = `
INSERT INTO server_statistics (server_id, period, bucket_start, counter, value)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (server_id, period, bucket_start, counter)
DO UPDATE SET value = server_statistics.value + 1`

// StatisticsStore 基于 pgx 的统计存储，一次计数累加到每个粒度的桶
type StatisticsStore struct {
	pool *pgxpool.Pool
}

var _ storage.StatisticsStore = (*StatisticsStore)(nil)

// NewStatisticsStore 创建统计存储并确保表存在
func NewStatisticsStore(ctx context.Context, client *Client) (*StatisticsStore, error) {
	if _, err := client.Pool().Exec(ctx, statisticsSchema); err != nil {
		return nil, fmt.Errorf("create statistics table: %w", err)
	}
	return &StatisticsStore{pool: client.Pool()}, nil
}

// IncrementBucket 在一个批次内累加全部粒度
func (s *StatisticsStore) IncrementBucket(ctx context.Context, serverID string, ts time.Time, counter string) error {
	batch := &pgx.Batch{}
	for _, interval := range domain.StatisticsIntervals() {
		batch.Queue(incrementBucketSQL, serverID, string(interval), domain.BucketStart(interval, ts), counter)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range domain.StatisticsIntervals() {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("increment statistics bucket: %w", err)
		}
	}
	return nil
}

// Get 读取一个桶的计数，不存在时为 0
func (s *StatisticsStore) Get(ctx context.Context, serverID string, interval domain.StatisticsInterval, ts time.Time, counter string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM server_statistics WHERE server_id = $1 AND period = $2 AND bucket_start = $3 AND counter = $4`,
		serverID, string(interval), domain.BucketStart(interval, ts), counter,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return value, err
}
