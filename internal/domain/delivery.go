package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DeliveryStatus 一次投递尝试的结果
type DeliveryStatus string

const (
	DeliveryStatusSent     DeliveryStatus = "Sent"
	DeliveryStatusSoftFail DeliveryStatus = "SoftFail"
	DeliveryStatusHardFail DeliveryStatus = "HardFail"
	DeliveryStatusHeld     DeliveryStatus = "Held"
	DeliveryStatusBounced  DeliveryStatus = "Bounced"
)

// Delivery 投递记录，创建后不可修改
type Delivery struct {
	ID          string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string            `json:"messageId" gorm:"type:varchar(36);index;not null"`
	Status      DeliveryStatus    `json:"status" gorm:"type:varchar(20);index"`
	Details     string            `json:"details" gorm:"type:text"`
	Output      string            `json:"output" gorm:"type:text"`
	SentWithSSL bool              `json:"sentWithSsl" gorm:"default:false"`
	Time        *float64          `json:"time"`
	LogID       string            `json:"logId" gorm:"type:varchar(100)"`
	Timestamp   float64           `json:"timestamp" gorm:"index"`
	Extra       datatypes.JSONMap `json:"extra,omitempty" gorm:"type:json"`
}

// TimestampTime 将数值时间戳转换为 time.Time
func (d *Delivery) TimestampTime() time.Time {
	sec := int64(d.Timestamp)
	nsec := int64((d.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// DeliveryAttributes 记录投递时调用方提供的属性。
// 未提升为字段的属性放入 Extra。
type DeliveryAttributes struct {
	Status      DeliveryStatus
	Details     string
	Output      string
	SentWithSSL bool
	Time        *float64
	LogID       string
	Extra       map[string]any
}

// 由记录过程本身写入的键，调用方不能覆盖
var reservedDeliveryKeys = []string{"id", "message_id", "timestamp"}

// Normalize 规整属性：
// Extra 中与具名字段同名的键在字段为空时被提升，保留键被丢弃。
func (a DeliveryAttributes) Normalize() DeliveryAttributes {
	out := a
	out.Status = DeliveryStatus(strings.TrimSpace(string(a.Status)))
	if len(a.Extra) == 0 {
		out.Extra = nil
		return out
	}

	extra := make(map[string]any, len(a.Extra))
	for k, v := range a.Extra {
		extra[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, k := range reservedDeliveryKeys {
		delete(extra, k)
	}

	if v, ok := extra["status"].(string); ok {
		if out.Status == "" {
			out.Status = DeliveryStatus(strings.TrimSpace(v))
		}
		delete(extra, "status")
	}
	if v, ok := extra["details"].(string); ok {
		if out.Details == "" {
			out.Details = v
		}
		delete(extra, "details")
	}
	if v, ok := extra["output"].(string); ok {
		if out.Output == "" {
			out.Output = v
		}
		delete(extra, "output")
	}
	if v, ok := extra["sent_with_ssl"].(bool); ok {
		out.SentWithSSL = out.SentWithSSL || v
		delete(extra, "sent_with_ssl")
	}
	if v, ok := extra["time"].(float64); ok {
		if out.Time == nil {
			t := v
			out.Time = &t
		}
		delete(extra, "time")
	}
	if v, ok := extra["log_id"].(string); ok {
		if out.LogID == "" {
			out.LogID = v
		}
		delete(extra, "log_id")
	}

	if len(extra) == 0 {
		extra = nil
	}
	out.Extra = extra
	return out
}
