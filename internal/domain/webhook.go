package domain

import "time"

// NotificationKind 通知事件类型
type NotificationKind string

const (
	NotificationMessageSent           NotificationKind = "MessageSent"           // 投递成功
	NotificationMessageDelayed        NotificationKind = "MessageDelayed"        // 暂时失败，稍后重试
	NotificationMessageDeliveryFailed NotificationKind = "MessageDeliveryFailed" // 永久失败
	NotificationMessageHeld           NotificationKind = "MessageHeld"           // 被扣留
)

// NotificationKindFor 将投递状态映射为通知类型，未映射的状态返回 false
func NotificationKindFor(status DeliveryStatus) (NotificationKind, bool) {
	switch status {
	case DeliveryStatusSent:
		return NotificationMessageSent, true
	case DeliveryStatusSoftFail:
		return NotificationMessageDelayed, true
	case DeliveryStatusHardFail:
		return NotificationMessageDeliveryFailed, true
	case DeliveryStatusHeld:
		return NotificationMessageHeld, true
	}
	return "", false
}

// DeliveryNotification 投递事件的通知载荷
type DeliveryNotification struct {
	Message     MessageSummary `json:"message"`
	Status      DeliveryStatus `json:"status"`
	Details     string         `json:"details"`
	Output      string         `json:"output"`
	SentWithSSL bool           `json:"sent_with_ssl"`
	Timestamp   float64        `json:"timestamp"`
	Time        *float64       `json:"time"`
	// RenderedTime 时间戳的可读形式（RFC 3339）
	RenderedTime string `json:"rendered_time"`
}

// NotificationEvent 发往外部传输层的事件信封
type NotificationEvent struct {
	ID        string           `json:"uuid"`
	ServerID  string           `json:"server_id"`
	Event     NotificationKind `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   interface{}      `json:"payload"`
}

// Webhook 服务器配置的通知订阅
type Webhook struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID  string    `json:"serverId" gorm:"type:varchar(36);index;not null"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	URL       string    `json:"url" gorm:"type:varchar(500);not null"`
	Secret    string    `json:"-" gorm:"type:varchar(255)"`
	AllEvents bool      `json:"allEvents" gorm:"default:false"`
	Events    []string  `json:"events" gorm:"serializer:json;type:json"`
	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subscribes 判断是否订阅了指定事件
func (w *Webhook) Subscribes(kind NotificationKind) bool {
	if !w.Enabled {
		return false
	}
	if w.AllEvents {
		return true
	}
	for _, e := range w.Events {
		if e == string(kind) {
			return true
		}
	}
	return false
}

// WebhookRequest 一次 Webhook 请求的记录
type WebhookRequest struct {
	ID         string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WebhookID  string           `json:"webhookId" gorm:"type:varchar(36);index"`
	ServerID   string           `json:"serverId" gorm:"type:varchar(36);index"`
	Event      NotificationKind `json:"event" gorm:"type:varchar(50)"`
	URL        string           `json:"url" gorm:"type:varchar(500)"`
	Payload    string           `json:"payload" gorm:"type:text"`
	StatusCode int              `json:"statusCode"`
	Response   string           `json:"response" gorm:"type:text"`
	Duration   int64            `json:"duration"` // 毫秒
	Success    bool             `json:"success"`
	Error      string           `json:"error" gorm:"type:text"`
	Attempts   int              `json:"attempts"`
	NextRetry  *time.Time       `json:"nextRetry"`
	CreatedAt  time.Time        `json:"createdAt"`
}
