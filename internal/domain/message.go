package domain

import "time"

// MessageScopeIncoming 入站邮件
const MessageScopeIncoming = "incoming"

// Message 由路由扇出产生、交给消息库持久化的一封邮件
type Message struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID     string       `json:"serverId" gorm:"type:varchar(36);index;not null"`
	Token        string       `json:"token" gorm:"type:varchar(16);index"`
	Scope        string       `json:"scope" gorm:"type:varchar(20);not null"`
	RcptTo       string       `json:"rcptTo" gorm:"type:varchar(255)"`
	MailFrom     string       `json:"mailFrom" gorm:"type:varchar(255)"`
	DomainID     *string      `json:"domainId" gorm:"type:varchar(36)"`
	RouteID      string       `json:"routeId" gorm:"type:varchar(36);index"`
	EndpointKind EndpointKind `json:"endpointType,omitempty" gorm:"type:varchar(32)"`
	EndpointID   string       `json:"endpointId,omitempty" gorm:"type:varchar(36)"`
	Subject      string       `json:"subject" gorm:"type:varchar(500)"`
	MessageID    string       `json:"messageId" gorm:"type:varchar(255)"`
	SpamStatus   string       `json:"spamStatus" gorm:"type:varchar(20)"`
	Tag          string       `json:"tag" gorm:"type:varchar(255)"`
	Raw          []byte       `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// StampEndpoint 为邮件标记投递目标
func (m *Message) StampEndpoint(ref EndpointRef) {
	m.EndpointKind = ref.Kind
	m.EndpointID = ref.ID
}

// MessageSummary 通知中携带的邮件摘要
type MessageSummary struct {
	ID         string  `json:"id"`
	Token      string  `json:"token"`
	Direction  string  `json:"direction"`
	MessageID  string  `json:"message_id"`
	To         string  `json:"to"`
	From       string  `json:"from"`
	Subject    string  `json:"subject"`
	Timestamp  float64 `json:"timestamp"`
	SpamStatus string  `json:"spam_status"`
	Tag        string  `json:"tag"`
}

// Summary 生成邮件摘要
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:         m.ID,
		Token:      m.Token,
		Direction:  m.Scope,
		MessageID:  m.MessageID,
		To:         m.RcptTo,
		From:       m.MailFrom,
		Subject:    m.Subject,
		Timestamp:  UnixSeconds(m.CreatedAt),
		SpamStatus: m.SpamStatus,
		Tag:        m.Tag,
	}
}

// UnixSeconds 返回带小数的 Unix 秒
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
