package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/pool"
	"mailroute/backend/internal/storage"
)

// ErrPublisherStopped 发布器未启动或已停止
var ErrPublisherStopped = errors.New("kafka publisher is not running")

// NewProducer 创建幂等的同步生产者
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return prod, nil
}

// Publisher 将投递通知写入 Kafka 主题，消息键为服务器 ID，保证同一服务器的事件有序
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	pool     *pool.WorkerPool
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.Mutex
	running bool
	stopped bool
}

var _ storage.NotificationTransport = (*Publisher)(nil)

// NewPublisher 创建发布器
func NewPublisher(producer sarama.SyncProducer, topic string, workers *pool.WorkerPool, logger *zap.Logger, metrics *monitoring.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		pool:     workers,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start 启动发送协程
func (p *Publisher) Start(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	p.running = true
	p.pool.Start()
}

// Stop 拒绝新的通知，等待排队的消息发送完毕后关闭生产者
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.running = false
	p.mu.Unlock()

	p.pool.Stop()
	if err := p.producer.Close(); err != nil {
		p.logger.Warn("Failed to close kafka producer", zap.Error(err))
	}
}

// Dispatch 排队发送一条通知，不等待结果
func (p *Publisher) Dispatch(ctx context.Context, serverID string, kind domain.NotificationKind, payload interface{}) error {
	event := domain.NotificationEvent{
		ID:        uuid.New().String(),
		ServerID:  serverID,
		Event:     kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(serverID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(kind)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrPublisherStopped
	}
	if err := p.pool.TrySubmit(func() { p.send(msg, event) }); err != nil {
		p.metrics.RecordNotificationDropped("queue_full")
		return fmt.Errorf("kafka queue rejected %s for server %s: %w", kind, serverID, err)
	}
	return nil
}

func (p *Publisher) send(msg *sarama.ProducerMessage, event domain.NotificationEvent) {
	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.RecordNotificationDelivered("kafka", err == nil)
	if err != nil {
		p.logger.Error("Failed to publish notification",
			zap.String("event_id", event.ID),
			zap.String("server_id", event.ServerID),
			zap.String("event", string(event.Event)),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("Notification published",
		zap.String("event_id", event.ID),
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
}
