package memory

import (
	"context"
	"sync"
	"time"

	"mailroute/backend/internal/domain"
)

// StatisticsStore 内存统计桶
type StatisticsStore struct {
	mu      sync.Mutex
	buckets map[string]int64
}

// NewStatisticsStore 创建内存统计存储
func NewStatisticsStore() *StatisticsStore {
	return &StatisticsStore{buckets: make(map[string]int64)}
}

func statisticsKey(serverID string, interval domain.StatisticsInterval, ts time.Time, counter string) string {
	return serverID + "|" + domain.BucketKey(interval, ts) + "|" + counter
}

// IncrementBucket 同时累加全部粒度的统计桶
func (s *StatisticsStore) IncrementBucket(ctx context.Context, serverID string, ts time.Time, counter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, interval := range domain.StatisticsIntervals() {
		s.buckets[statisticsKey(serverID, interval, ts, counter)]++
	}
	return nil
}

// Get 读取某个统计桶的值
func (s *StatisticsStore) Get(serverID string, interval domain.StatisticsInterval, ts time.Time, counter string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[statisticsKey(serverID, interval, ts, counter)]
}
