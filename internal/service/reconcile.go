package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// ReconcileResult 一次附加目标调和的结果
type ReconcileResult struct {
	Created  int `json:"created"`
	Retained int `json:"retained"`
	Deleted  int `json:"deleted"`
}

// reconcile 将路由的附加目标调整为 desired：
// 已存在的保留，缺少的新建，其余删除。
// 任一新建失败时返回 *domain.RecordInvalidError，由外层事务回滚。
func (s *RouteService) reconcile(ctx context.Context, tx storage.RouteTx, server *domain.Server, route *domain.Route, desired []string) (ReconcileResult, error) {
	var result ReconcileResult

	existing, err := tx.ListSecondaryEndpoints(ctx, route.ID)
	if err != nil {
		return result, err
	}
	byRef := make(map[string]string, len(existing))
	for _, se := range existing {
		key := se.Ref().String()
		if _, ok := byRef[key]; !ok {
			byRef[key] = se.ID
		}
	}

	seen := make([]string, 0, len(desired))
	retained := make(map[string]struct{}, len(desired))
	for _, item := range desired {
		if id, ok := byRef[item]; ok {
			seen = append(seen, id)
			if _, counted := retained[id]; !counted {
				retained[id] = struct{}{}
				result.Retained++
			}
			continue
		}

		se, fieldErrs, err := s.buildSecondary(ctx, server, route, item)
		if err != nil {
			return result, err
		}
		if !fieldErrs.Empty() {
			var routeErrs domain.ValidationErrors
			for _, fe := range fieldErrs {
				routeErrs.Add(domain.FieldBase, fe.String())
			}
			return result, &domain.RecordInvalidError{Errors: routeErrs}
		}

		if err := tx.CreateSecondaryEndpoint(ctx, se); err != nil {
			return result, err
		}
		byRef[item] = se.ID
		retained[se.ID] = struct{}{}
		seen = append(seen, se.ID)
		result.Created++
	}

	deleted, err := tx.DeleteSecondaryEndpointsExcept(ctx, route.ID, seen)
	if err != nil {
		return result, err
	}
	result.Deleted = deleted
	return result, nil
}

// buildSecondary 从引用字符串构造附加目标并校验
func (s *RouteService) buildSecondary(ctx context.Context, server *domain.Server, route *domain.Route, value string) (*domain.SecondaryEndpoint, domain.ValidationErrors, error) {
	var errs domain.ValidationErrors

	ref, err := domain.ParseEndpointRef(value)
	if err != nil {
		errs.Add(domain.FieldBase, err.Error())
		return nil, errs, nil
	}

	ep, err := s.resolver.Resolve(ctx, ref)
	if err != nil && !errors.Is(err, domain.ErrInvalidReference) {
		return nil, nil, err
	}
	switch {
	case ep == nil:
		errs.Add("endpoint", domain.MsgBlank)
	case ep.OwnerServerID() != server.ID:
		errs.Add("endpoint", domain.MsgInvalid)
	}
	if !errs.Empty() {
		return nil, errs, nil
	}

	return &domain.SecondaryEndpoint{
		ID:           uuid.New().String(),
		RouteID:      route.ID,
		EndpointKind: ref.Kind,
		EndpointID:   ref.ID,
	}, nil, nil
}
