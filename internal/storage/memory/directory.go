package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// ========== Directory ==========

// SaveOrganization 保存组织
func (s *Store) SaveOrganization(org *domain.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	cp := *org
	s.organizations[org.ID] = &cp
}

// SaveServer 保存服务器
func (s *Store) SaveServer(server *domain.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now()
	}
	cp := *server
	s.servers[server.ID] = &cp
}

// SaveDomain 保存域名
func (s *Store) SaveDomain(d *domain.MailDomain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	s.domains[d.ID] = &cp
}

// SaveEndpoint 保存投递目标
func (s *Store) SaveEndpoint(e domain.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	switch ep := e.(type) {
	case *domain.SMTPEndpoint:
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = now
		}
		cp := *ep
		s.smtpEndpoints[ep.ID] = &cp
	case *domain.HTTPEndpoint:
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = now
		}
		cp := *ep
		s.httpEndpoints[ep.ID] = &cp
	case *domain.AddressEndpoint:
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = now
		}
		cp := *ep
		s.addrEndpoints[ep.ID] = &cp
	}
}

// GetServer 获取服务器，并填充组织标识
func (s *Store) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, storage.ErrServerNotFound
	}
	cp := *server
	if org, ok := s.organizations[server.OrganizationID]; ok {
		cp.OrganizationPermalink = org.Permalink
	}
	return &cp, nil
}

// GetDomain 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, storage.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

// FindDomainForServer 优先返回服务器自有域名，其次是组织域名
func (s *Store) FindDomainForServer(ctx context.Context, server *domain.Server, name string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orgDomain *domain.MailDomain
	for _, d := range s.domains {
		if !strings.EqualFold(d.Name, name) || !d.OwnedBy(server) {
			continue
		}
		if d.OwnerType == domain.DomainOwnerServer {
			cp := *d
			return &cp, nil
		}
		orgDomain = d
	}
	if orgDomain == nil {
		return nil, storage.ErrDomainNotFound
	}
	cp := *orgDomain
	return &cp, nil
}

// GetSMTPEndpoint 获取 SMTP 目标
func (s *Store) GetSMTPEndpoint(ctx context.Context, id string) (*domain.SMTPEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ep, ok := s.smtpEndpoints[id]; ok {
		cp := *ep
		return &cp, nil
	}
	return nil, storage.ErrEndpointNotFound
}

// GetHTTPEndpoint 获取 HTTP 目标
func (s *Store) GetHTTPEndpoint(ctx context.Context, id string) (*domain.HTTPEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ep, ok := s.httpEndpoints[id]; ok {
		cp := *ep
		return &cp, nil
	}
	return nil, storage.ErrEndpointNotFound
}

// GetAddressEndpoint 获取地址目标
func (s *Store) GetAddressEndpoint(ctx context.Context, id string) (*domain.AddressEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ep, ok := s.addrEndpoints[id]; ok {
		cp := *ep
		return &cp, nil
	}
	return nil, storage.ErrEndpointNotFound
}

type endpointRow struct {
	endpoint  domain.Endpoint
	createdAt time.Time
}

// ListEndpoints 按类型列出服务器的投递目标
func (s *Store) ListEndpoints(ctx context.Context, serverID string, kind domain.EndpointKind) ([]domain.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []endpointRow
	switch kind {
	case domain.EndpointKindSMTP:
		for _, ep := range s.smtpEndpoints {
			if ep.ServerID == serverID {
				cp := *ep
				rows = append(rows, endpointRow{&cp, ep.CreatedAt})
			}
		}
	case domain.EndpointKindHTTP:
		for _, ep := range s.httpEndpoints {
			if ep.ServerID == serverID {
				cp := *ep
				rows = append(rows, endpointRow{&cp, ep.CreatedAt})
			}
		}
	case domain.EndpointKindAddress:
		for _, ep := range s.addrEndpoints {
			if ep.ServerID == serverID {
				cp := *ep
				rows = append(rows, endpointRow{&cp, ep.CreatedAt})
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].endpoint.Ref().ID < rows[j].endpoint.Ref().ID
		}
		return rows[i].createdAt.Before(rows[j].createdAt)
	})

	out := make([]domain.Endpoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.endpoint)
	}
	return out, nil
}
