package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// ========== Directory ==========

// SaveOrganization 保存组织
func (s *Store) SaveOrganization(ctx context.Context, org *domain.Organization) error {
	return s.db.WithContext(ctx).Save(org).Error
}

// SaveServer 保存服务器
func (s *Store) SaveServer(ctx context.Context, server *domain.Server) error {
	return s.db.WithContext(ctx).Save(server).Error
}

// SaveDomain 保存域名
func (s *Store) SaveDomain(ctx context.Context, d *domain.MailDomain) error {
	return s.db.WithContext(ctx).Save(d).Error
}

// SaveEndpoint 保存投递目标
func (s *Store) SaveEndpoint(ctx context.Context, e domain.Endpoint) error {
	return s.db.WithContext(ctx).Save(e).Error
}

// GetServer 获取服务器并填充组织标识
func (s *Store) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	db := s.db.WithContext(ctx)
	var server domain.Server
	if err := db.Where("id = ?", id).First(&server).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrServerNotFound
		}
		return nil, err
	}

	var org domain.Organization
	err := db.Select("permalink").Where("id = ?", server.OrganizationID).First(&org).Error
	switch {
	case err == nil:
		server.OrganizationPermalink = org.Permalink
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return &server, nil
}

// GetDomain 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrDomainNotFound
		}
		return nil, err
	}
	return &d, nil
}

// FindDomainForServer 按名称查找服务器或其组织拥有的域名，服务器自有的优先
func (s *Store) FindDomainForServer(ctx context.Context, server *domain.Server, name string) (*domain.MailDomain, error) {
	var candidates []domain.MailDomain
	err := s.db.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(name)).
		Where("(owner_type = ? AND owner_id = ?) OR (owner_type = ? AND owner_id = ?)",
			domain.DomainOwnerServer, server.ID,
			domain.DomainOwnerOrganization, server.OrganizationID).
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, storage.ErrDomainNotFound
	}
	for i := range candidates {
		if candidates[i].OwnerType == domain.DomainOwnerServer {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}

// GetSMTPEndpoint 获取 SMTP 目标
func (s *Store) GetSMTPEndpoint(ctx context.Context, id string) (*domain.SMTPEndpoint, error) {
	var ep domain.SMTPEndpoint
	if err := s.first(ctx, &ep, id); err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetHTTPEndpoint 获取 HTTP 目标
func (s *Store) GetHTTPEndpoint(ctx context.Context, id string) (*domain.HTTPEndpoint, error) {
	var ep domain.HTTPEndpoint
	if err := s.first(ctx, &ep, id); err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetAddressEndpoint 获取地址目标
func (s *Store) GetAddressEndpoint(ctx context.Context, id string) (*domain.AddressEndpoint, error) {
	var ep domain.AddressEndpoint
	if err := s.first(ctx, &ep, id); err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *Store) first(ctx context.Context, dest interface{}, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrEndpointNotFound
		}
		return err
	}
	return nil
}

// ListEndpoints 按类型列出服务器的投递目标
func (s *Store) ListEndpoints(ctx context.Context, serverID string, kind domain.EndpointKind) ([]domain.Endpoint, error) {
	q := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("created_at ASC").Order("id ASC")

	var out []domain.Endpoint
	switch kind {
	case domain.EndpointKindSMTP:
		var list []domain.SMTPEndpoint
		if err := q.Find(&list).Error; err != nil {
			return nil, err
		}
		for i := range list {
			out = append(out, &list[i])
		}
	case domain.EndpointKindHTTP:
		var list []domain.HTTPEndpoint
		if err := q.Find(&list).Error; err != nil {
			return nil, err
		}
		for i := range list {
			out = append(out, &list[i])
		}
	case domain.EndpointKindAddress:
		var list []domain.AddressEndpoint
		if err := q.Find(&list).Error; err != nil {
			return nil, err
		}
		for i := range list {
			out = append(out, &list[i])
		}
	default:
		return nil, fmt.Errorf("unknown endpoint kind %q", kind)
	}
	return out, nil
}

// ========== Webhook Repository ==========

// CreateWebhook 创建 Webhook
func (s *Store) CreateWebhook(ctx context.Context, webhook *domain.Webhook) error {
	return s.db.WithContext(ctx).Create(webhook).Error
}

// ListWebhooks 列出服务器的 Webhooks
func (s *Store) ListWebhooks(ctx context.Context, serverID string) ([]domain.Webhook, error) {
	var webhooks []domain.Webhook
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("created_at ASC").Find(&webhooks).Error
	if err != nil {
		return nil, err
	}
	return webhooks, nil
}

// RecordWebhookRequest 记录一次 Webhook 请求
func (s *Store) RecordWebhookRequest(ctx context.Context, request *domain.WebhookRequest) error {
	return s.db.WithContext(ctx).Create(request).Error
}

// ListWebhookRequests 返回 Webhook 最近的请求记录
func (s *Store) ListWebhookRequests(ctx context.Context, webhookID string, limit int) ([]domain.WebhookRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var requests []domain.WebhookRequest
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}
