package domain

import (
	"fmt"
	"time"
)

// 投递统计计数器名称
const (
	CounterHeld    = "held"
	CounterBounces = "bounces"
)

// StatisticsInterval 统计桶的粒度
type StatisticsInterval string

const (
	IntervalHourly  StatisticsInterval = "hourly"
	IntervalDaily   StatisticsInterval = "daily"
	IntervalMonthly StatisticsInterval = "monthly"
	IntervalYearly  StatisticsInterval = "yearly"
)

// StatisticsIntervals 每次计数都会累加到的全部粒度
func StatisticsIntervals() []StatisticsInterval {
	return []StatisticsInterval{IntervalHourly, IntervalDaily, IntervalMonthly, IntervalYearly}
}

// BucketStart 返回时间戳所在统计桶的起始时间（UTC）
func BucketStart(interval StatisticsInterval, ts time.Time) time.Time {
	ts = ts.UTC()
	switch interval {
	case IntervalHourly:
		return ts.Truncate(time.Hour)
	case IntervalDaily:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case IntervalMonthly:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// BucketKey 返回统计桶的稳定标识，如 "hourly:2024010215"
func BucketKey(interval StatisticsInterval, ts time.Time) string {
	start := BucketStart(interval, ts)
	var layout string
	switch interval {
	case IntervalHourly:
		layout = "2006010215"
	case IntervalDaily:
		layout = "20060102"
	case IntervalMonthly:
		layout = "200601"
	default:
		layout = "2006"
	}
	return fmt.Sprintf("%s:%s", interval, start.Format(layout))
}
