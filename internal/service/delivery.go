package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/storage"
)

// DeliveryProcessor 记录投递结果，并更新统计、发送通知
type DeliveryProcessor struct {
	messages  storage.MessageDatabases
	stats     storage.StatisticsStore
	transport storage.NotificationTransport
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// NewDeliveryProcessor 创建投递处理器，stats 与 transport 可为 nil
func NewDeliveryProcessor(messages storage.MessageDatabases, stats storage.StatisticsStore, transport storage.NotificationTransport, logger *zap.Logger, metrics *monitoring.Metrics) *DeliveryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryProcessor{
		messages:  messages,
		stats:     stats,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Record 追加一条投递记录。
//
// 只有写入投递记录失败才返回错误；统计与通知失败只记录日志。
func (p *DeliveryProcessor) Record(ctx context.Context, message *domain.Message, attrs domain.DeliveryAttributes) (*domain.Delivery, error) {
	db, err := p.messages.MessageDB(ctx, message.ServerID)
	if err != nil {
		return nil, fmt.Errorf("open message db: %w", err)
	}

	attrs = attrs.Normalize()
	ts := p.now()
	delivery := &domain.Delivery{
		ID:          uuid.New().String(),
		MessageID:   message.ID,
		Status:      attrs.Status,
		Details:     attrs.Details,
		Output:      attrs.Output,
		SentWithSSL: attrs.SentWithSSL,
		Time:        attrs.Time,
		LogID:       attrs.LogID,
		Timestamp:   domain.UnixSeconds(ts),
	}
	if attrs.Extra != nil {
		delivery.Extra = datatypes.JSONMap(attrs.Extra)
	}

	if err := db.InsertDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	p.metrics.RecordDelivery(string(delivery.Status))

	p.updateStatistics(ctx, message, delivery, ts)
	p.notify(ctx, message, delivery, ts)
	return delivery, nil
}

// updateStatistics 扣留计入 held，退信与永久失败计入 bounces
func (p *DeliveryProcessor) updateStatistics(ctx context.Context, message *domain.Message, delivery *domain.Delivery, ts time.Time) {
	var counter string
	switch delivery.Status {
	case domain.DeliveryStatusHeld:
		counter = domain.CounterHeld
	case domain.DeliveryStatusBounced, domain.DeliveryStatusHardFail:
		counter = domain.CounterBounces
	default:
		return
	}
	if p.stats == nil {
		return
	}

	if err := p.stats.IncrementBucket(ctx, message.ServerID, ts, counter); err != nil {
		p.metrics.RecordStatisticsFailure()
		p.logger.Warn("Failed to update delivery statistics",
			zap.String("server_id", message.ServerID),
			zap.String("delivery_id", delivery.ID),
			zap.String("counter", counter),
			zap.Error(err),
		)
	}
}

// notify 按状态映射通知类型并交给传输层
func (p *DeliveryProcessor) notify(ctx context.Context, message *domain.Message, delivery *domain.Delivery, ts time.Time) {
	kind, ok := domain.NotificationKindFor(delivery.Status)
	if !ok || p.transport == nil {
		return
	}

	payload := BuildDeliveryNotification(message, delivery, ts)
	if err := p.transport.Dispatch(ctx, message.ServerID, kind, payload); err != nil {
		p.metrics.RecordNotificationDropped("dispatch_error")
		p.logger.Warn("Failed to dispatch delivery notification",
			zap.String("server_id", message.ServerID),
			zap.String("delivery_id", delivery.ID),
			zap.String("event", string(kind)),
			zap.Error(err),
		)
		return
	}
	p.metrics.RecordNotificationQueued(string(kind))
}

// BuildDeliveryNotification 构造投递通知载荷
func BuildDeliveryNotification(message *domain.Message, delivery *domain.Delivery, ts time.Time) domain.DeliveryNotification {
	return domain.DeliveryNotification{
		Message:      message.Summary(),
		Status:       delivery.Status,
		Details:      delivery.Details,
		Output:       sanitizeOutput(delivery.Output),
		SentWithSSL:  delivery.SentWithSSL,
		Timestamp:    delivery.Timestamp,
		Time:         delivery.Time,
		RenderedTime: ts.UTC().Format(time.RFC3339),
	}
}

// RecordByID 按邮件 ID 记录投递结果，邮件必须属于该服务器
func (p *DeliveryProcessor) RecordByID(ctx context.Context, serverID, messageID string, attrs domain.DeliveryAttributes) (*domain.Delivery, error) {
	message, err := p.Message(ctx, serverID, messageID)
	if err != nil {
		return nil, err
	}
	return p.Record(ctx, message, attrs)
}

// Message 读取服务器消息库中的邮件
func (p *DeliveryProcessor) Message(ctx context.Context, serverID, messageID string) (*domain.Message, error) {
	db, err := p.messages.MessageDB(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("open message db: %w", err)
	}
	return db.GetMessage(ctx, messageID)
}

// Deliveries 列出邮件的投递记录
func (p *DeliveryProcessor) Deliveries(ctx context.Context, serverID, messageID string) ([]domain.Delivery, error) {
	db, err := p.messages.MessageDB(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("open message db: %w", err)
	}
	if _, err := db.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return db.ListDeliveries(ctx, messageID)
}
