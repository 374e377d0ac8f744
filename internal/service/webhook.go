package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/pool"
	"mailroute/backend/internal/storage"
)

// ErrNotifierStopped 通知器未启动或已停止
var ErrNotifierStopped = errors.New("webhook notifier is not running")

// 签名与事件请求头
const (
	SignatureHeader = "X-Mailroute-Signature"
	EventHeader     = "X-Mailroute-Event"
	RequestIDHeader = "X-Mailroute-Request-ID"
)

// maxResponseBody 记录响应体的最大字节数
const maxResponseBody = 4096

// WebhookNotifierConfig Webhook 通知配置
type WebhookNotifierConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
	// RetryIntervals 第 n 次失败后的等待时间，超出部分使用最后一个值
	RetryIntervals []time.Duration
}

// DefaultRetryIntervals 默认重试间隔
func DefaultRetryIntervals() []time.Duration {
	return []time.Duration{
		time.Second,
		5 * time.Second,
		15 * time.Second,
		time.Minute,
		6 * time.Minute,
	}
}

// WebhookNotifier 将投递通知以签名的 HTTP 请求发往服务器订阅的 Webhook
type WebhookNotifier struct {
	repo       storage.WebhookRepository
	pool       *pool.WorkerPool
	httpClient *http.Client
	cfg        WebhookNotifierConfig
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	// draining 关闭后不再等待重试，队列中的通知只尝试一次
	draining chan struct{}
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(repo storage.WebhookRepository, workers *pool.WorkerPool, cfg WebhookNotifierConfig, logger *zap.Logger, metrics *monitoring.Metrics) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if len(cfg.RetryIntervals) == 0 {
		cfg.RetryIntervals = DefaultRetryIntervals()
	}
	return &WebhookNotifier{
		repo: repo,
		pool: workers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		limiters: make(map[string]*rate.Limiter),
		draining: make(chan struct{}),
	}
}

// Start 启动投递协程，ctx 结束会中断进行中的请求，应使用关闭流程不会提前取消的 ctx
func (n *WebhookNotifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx != nil || n.stopped {
		return
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.pool.Start()
}

// Stop 拒绝新的通知，等待排队中的通知处理完毕后再取消请求上下文
func (n *WebhookNotifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	cancel := n.cancel
	n.ctx = nil
	close(n.draining)
	n.mu.Unlock()

	n.pool.Stop()
	if cancel != nil {
		cancel()
	}
}

// Dispatch 为每个订阅了 kind 的 Webhook 排队一次投递，不等待结果
func (n *WebhookNotifier) Dispatch(ctx context.Context, serverID string, kind domain.NotificationKind, payload interface{}) error {
	if !n.running() {
		return ErrNotifierStopped
	}

	webhooks, err := n.repo.ListWebhooks(ctx, serverID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

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

	n.mu.Lock()
	defer n.mu.Unlock()
	runCtx := n.ctx
	if runCtx == nil {
		return ErrNotifierStopped
	}
	for i := range webhooks {
		webhook := webhooks[i]
		if !webhook.Subscribes(kind) {
			continue
		}
		if err := n.pool.TrySubmit(func() { n.deliver(runCtx, &webhook, kind, body) }); err != nil {
			n.metrics.RecordNotificationDropped("queue_full")
			n.logger.Warn("Webhook queue full, dropping notification",
				zap.String("webhook_id", webhook.ID),
				zap.String("event", string(kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// running 通知器已启动且未停止
func (n *WebhookNotifier) running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctx != nil
}

// deliver 投递一个 Webhook，失败时按重试间隔重试，每次尝试都会记录
func (n *WebhookNotifier) deliver(ctx context.Context, webhook *domain.Webhook, kind domain.NotificationKind, body []byte) {
	limiter := n.limiter(webhook.ServerID)

	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		req := n.send(ctx, webhook, kind, body, attempt)
		if !req.Success && attempt < n.cfg.MaxAttempts {
			next := time.Now().Add(n.retryInterval(attempt))
			req.NextRetry = &next
		}
		if err := n.repo.RecordWebhookRequest(context.WithoutCancel(ctx), req); err != nil {
			n.logger.Warn("Failed to record webhook request", zap.String("webhook_id", webhook.ID), zap.Error(err))
		}
		n.metrics.RecordNotificationDelivered("webhook", req.Success)

		if req.Success || req.NextRetry == nil {
			return
		}

		timer := time.NewTimer(time.Until(*req.NextRetry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-n.draining:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// send 发送一次请求并返回请求记录
func (n *WebhookNotifier) send(ctx context.Context, webhook *domain.Webhook, kind domain.NotificationKind, body []byte, attempt int) *domain.WebhookRequest {
	record := &domain.WebhookRequest{
		ID:        uuid.New().String(),
		WebhookID: webhook.ID,
		ServerID:  webhook.ServerID,
		Event:     kind,
		URL:       webhook.URL,
		Payload:   string(body),
		Attempts:  attempt,
	}

	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		record.Error = fmt.Sprintf("failed to create request: %v", err)
		record.Duration = time.Since(startTime).Milliseconds()
		return record
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+generateSignature(body, webhook.Secret))
	req.Header.Set(EventHeader, string(kind))
	req.Header.Set(RequestIDHeader, record.ID)

	resp, err := n.httpClient.Do(req)
	record.Duration = time.Since(startTime).Milliseconds()
	if err != nil {
		record.Error = fmt.Sprintf("failed to send request: %v", err)
		return record
	}
	defer resp.Body.Close()

	record.StatusCode = resp.StatusCode
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	record.Response = string(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		record.Success = true
	} else {
		record.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, record.Response)
	}
	return record
}

// limiter 返回服务器的限流器，未配置速率时返回 nil
func (n *WebhookNotifier) limiter(serverID string) *rate.Limiter {
	if n.cfg.RatePerSecond <= 0 {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	l, ok := n.limiters[serverID]
	if !ok {
		burst := n.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(n.cfg.RatePerSecond), burst)
		n.limiters[serverID] = l
	}
	return l
}

// retryInterval 第 attempt 次失败后的等待时间
func (n *WebhookNotifier) retryInterval(attempt int) time.Duration {
	intervals := n.cfg.RetryIntervals
	if attempt-1 < len(intervals) {
		return intervals[attempt-1]
	}
	return intervals[len(intervals)-1]
}

// generateSignature 生成 HMAC-SHA256 签名
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature 校验签名头，格式 "sha256=<hex>"
func VerifySignature(payload []byte, secret, header string) bool {
	expected := "sha256=" + generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}
