package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

const statisticsKeyPrefix = "mailroute:stats:"

// 各粒度桶的保留时间，0 表示不过期
var bucketRetention = map[domain.StatisticsInterval]time.Duration{
	domain.IntervalHourly:  8 * 24 * time.Hour,
	domain.IntervalDaily:   400 * 24 * time.Hour,
	domain.IntervalMonthly: 0,
	domain.IntervalYearly:  0,
}

// StatisticsStore 基于 Redis 哈希的统计存储，每个桶一个哈希，计数器为字段
type StatisticsStore struct {
	rdb *goredis.Client
}

var _ storage.StatisticsStore = (*StatisticsStore)(nil)

// NewStatisticsStore 创建统计存储
func NewStatisticsStore(client *Client) *StatisticsStore {
	return &StatisticsStore{rdb: client.Client()}
}

// statisticsKey 例如 "mailroute:stats:srv-1:daily:20240102"
func statisticsKey(serverID string, interval domain.StatisticsInterval, ts time.Time) string {
	return statisticsKeyPrefix + serverID + ":" + domain.BucketKey(interval, ts)
}

// IncrementBucket 在一个事务管道内累加全部粒度
func (s *StatisticsStore) IncrementBucket(ctx context.Context, serverID string, ts time.Time, counter string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, interval := range domain.StatisticsIntervals() {
			key := statisticsKey(serverID, interval, ts)
			pipe.HIncrBy(ctx, key, counter, 1)
			if ttl := bucketRetention[interval]; ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment statistics bucket: %w", err)
	}
	return nil
}

// Get 读取一个桶的计数，不存在时为 0
func (s *StatisticsStore) Get(ctx context.Context, serverID string, interval domain.StatisticsInterval, ts time.Time, counter string) (int64, error) {
	v, err := s.rdb.HGet(ctx, statisticsKey(serverID, interval, ts), counter).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return v, err
}
