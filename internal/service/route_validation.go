package service

import (
	"context"
	"errors"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// validation 一次校验的结果
type validation struct {
	errs       domain.ValidationErrors
	domainName string
}

// validate 在事务内计算路由的全部不变量违规，不在第一个错误处停止
func (s *RouteService) validate(ctx context.Context, tx storage.RouteTx, server *domain.Server, route *domain.Route, secondaryCount int) (validation, error) {
	v := validation{errs: domain.ValidateRouteFields(route, secondaryCount)}

	if err := s.validateEndpoint(ctx, server, route, &v.errs); err != nil {
		return v, err
	}

	d, err := s.validateDomain(ctx, server, route, &v.errs)
	if err != nil {
		return v, err
	}
	if d != nil {
		v.domainName = d.Name
	}

	if err := s.validateUniqueness(ctx, tx, server, route, d, &v.errs); err != nil {
		return v, err
	}
	return v, nil
}

// validateEndpoint Endpoint 模式下目标必须存在且属于同一服务器
func (s *RouteService) validateEndpoint(ctx context.Context, server *domain.Server, route *domain.Route, errs *domain.ValidationErrors) error {
	ref, ok := route.EndpointRef()
	if !ok {
		if route.Mode == domain.RouteModeEndpoint {
			errs.Add("endpoint", domain.MsgBlank)
		}
		return nil
	}

	ep, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidReference) {
			errs.Add("endpoint", domain.MsgBlank)
			return nil
		}
		return err
	}
	switch {
	case ep == nil:
		errs.Add("endpoint", domain.MsgBlank)
	case ep.OwnerServerID() != server.ID:
		errs.Add("endpoint", domain.MsgInvalid)
	}
	return nil
}

// validateDomain 域名必须属于服务器或其组织，并且已验证
func (s *RouteService) validateDomain(ctx context.Context, server *domain.Server, route *domain.Route, errs *domain.ValidationErrors) (*domain.MailDomain, error) {
	if route.DomainID == nil {
		return nil, nil
	}

	d, err := s.store.GetDomain(ctx, *route.DomainID)
	if err != nil {
		if errors.Is(err, storage.ErrDomainNotFound) {
			errs.Add("domain", domain.MsgInvalid)
			return nil, nil
		}
		return nil, err
	}

	if !d.OwnedBy(server) {
		errs.Add("domain", domain.MsgInvalid)
	}
	if !d.Verified() {
		errs.Add("domain", domain.MsgDomainNotVerified)
	}
	return d, nil
}

// validateUniqueness 名称 + 域名在整个路由表中唯一；每个服务器最多一条退信路由
func (s *RouteService) validateUniqueness(ctx context.Context, tx storage.RouteTx, server *domain.Server, route *domain.Route, d *domain.MailDomain, errs *domain.ValidationErrors) error {
	if d != nil {
		conflict, err := tx.FindConflictingRoute(ctx, route.Name, d.Name, route.ID)
		if err != nil {
			return err
		}
		if conflict == nil {
			return nil
		}

		owner, err := s.store.GetServer(ctx, conflict.ServerID)
		if err != nil {
			if !errors.Is(err, storage.ErrServerNotFound) {
				return err
			}
			errs.Add("name", domain.MsgTaken)
			return nil
		}
		errs.Add("name", domain.NameConflictMessage(owner.FullPermalink()))
		return nil
	}

	if !route.IsReturnPath() {
		return nil
	}
	exists, err := tx.ReturnPathRouteExists(ctx, server.ID, route.ID)
	if err != nil {
		return err
	}
	if exists {
		errs.Add(domain.FieldBase, domain.MsgReturnPathExists)
	}
	return nil
}
