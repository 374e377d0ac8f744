package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mailroute/backend/internal/domain"
)

// CreateWebhook 创建 Webhook
func (s *Store) CreateWebhook(webhook *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 检查是否已存在
	if _, exists := s.webhooks[webhook.ID]; exists {
		return fmt.Errorf("webhook already exists")
	}

	webhook.CreatedAt = time.Now()
	webhook.UpdatedAt = time.Now()
	cp := *webhook
	s.webhooks[webhook.ID] = &cp
	return nil
}

// ListWebhooks 列出服务器的 Webhooks
func (s *Store) ListWebhooks(ctx context.Context, serverID string) ([]domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Webhook, 0)
	for _, webhook := range s.webhooks {
		if webhook.ServerID == serverID {
			result = append(result, *webhook)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// RecordWebhookRequest 记录一次 Webhook 请求
func (s *Store) RecordWebhookRequest(ctx context.Context, request *domain.WebhookRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now()
	}
	cp := *request
	s.webhookRequests = append(s.webhookRequests, &cp)
	return nil
}

// WebhookRequests 返回 Webhook 的请求记录，最新的在前
func (s *Store) WebhookRequests(webhookID string) []domain.WebhookRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.WebhookRequest
	for i := len(s.webhookRequests) - 1; i >= 0; i-- {
		if s.webhookRequests[i].WebhookID == webhookID {
			result = append(result, *s.webhookRequests[i])
		}
	}
	return result
}
