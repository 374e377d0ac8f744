package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/storage"
)

// ErrTokenExhausted 多次生成的令牌均已被占用
var ErrTokenExhausted = errors.New("could not generate a unique route token")

const maxTokenAttempts = 5

// RouteStore 路由服务依赖的存储
type RouteStore interface {
	storage.RouteRepository
	storage.Directory
}

// RouteService 路由表服务
type RouteService struct {
	store       RouteStore
	resolver    *EndpointResolver
	routeDomain string
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

// NewRouteService 创建路由服务
func NewRouteService(store RouteStore, routeDomain string, logger *zap.Logger, metrics *monitoring.Metrics) *RouteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteService{
		store:       store,
		resolver:    NewEndpointResolver(store),
		routeDomain: routeDomain,
		logger:      logger,
		metrics:     metrics,
	}
}

// Resolver 返回投递目标解析器
func (s *RouteService) Resolver() *EndpointResolver {
	return s.resolver
}

// SaveRouteInput 保存路由输入，整体替换路由字段
type SaveRouteInput struct {
	ID       string          `json:"-"` // 为空时创建
	ServerID string          `json:"-"`
	Name     string          `json:"name"`
	DomainID *string         `json:"domainId"`
	SpamMode domain.SpamMode `json:"spamMode"`
	// Endpoint 外部表示："<Kind>#<id>"、处置方式字面值或空
	Endpoint string `json:"endpoint"`
	// AdditionalEndpoints 期望的附加目标列表，nil 表示不修改
	AdditionalEndpoints []string `json:"additionalEndpoints"`
}

// SaveRouteResult 保存结果
type SaveRouteResult struct {
	Route     *domain.Route
	Reconcile *ReconcileResult // 未提供附加目标列表时为 nil
}

// RouteView 路由的展示形式
type RouteView struct {
	domain.Route
	DomainName          string   `json:"domainName,omitempty"`
	Description         string   `json:"description"`
	Endpoint            string   `json:"endpoint"`
	AdditionalEndpoints []string `json:"additionalEndpoints"`
	ForwardAddress      string   `json:"forwardAddress"`
}

// Save 校验并提交路由（含附加目标调和），全部在一个事务中完成。
//
// 校验失败返回 domain.ValidationErrors，附加目标无法保存返回 *domain.RecordInvalidError，
// 两种情况下已持久化的状态都不变。
func (s *RouteService) Save(ctx context.Context, input SaveRouteInput) (*SaveRouteResult, error) {
	operation := "update"
	if input.ID == "" {
		operation = "create"
	}

	server, err := s.store.GetServer(ctx, input.ServerID)
	if err != nil {
		return nil, err
	}

	var result SaveRouteResult
	err = s.store.WithinTx(ctx, func(tx storage.RouteTx) error {
		route, err := s.loadOrBuild(ctx, tx, server, input.ID)
		if err != nil {
			return err
		}

		route.Name = strings.TrimSpace(input.Name)
		route.DomainID = normalizeID(input.DomainID)
		route.SpamMode = input.SpamMode
		if route.SpamMode == "" {
			route.SpamMode = domain.SpamModeMark
		}
		if err := route.AssignEndpoint(input.Endpoint); err != nil {
			return err
		}

		desired := desiredEndpoints(input.AdditionalEndpoints)
		secondaryCount := len(desired)
		if desired == nil {
			existing, err := tx.ListSecondaryEndpoints(ctx, route.ID)
			if err != nil {
				return err
			}
			secondaryCount = len(existing)
		}

		v, err := s.validate(ctx, tx, server, route, secondaryCount)
		if err != nil {
			return err
		}
		if !v.errs.Empty() {
			return v.errs
		}

		if route.Token == "" {
			if route.Token, err = s.uniqueToken(ctx, tx); err != nil {
				return err
			}
		}
		route.MatchKey = domain.RouteMatchKey(route.Name, v.domainName, server.ID)

		if err := tx.SaveRoute(ctx, route); err != nil {
			if errors.Is(err, storage.ErrDuplicateMatchKey) {
				var errs domain.ValidationErrors
				if route.IsReturnPath() {
					errs.Add(domain.FieldBase, domain.MsgReturnPathExists)
				} else {
					errs.Add("name", domain.MsgTaken)
				}
				return errs
			}
			return err
		}

		if desired != nil {
			rec, err := s.reconcile(ctx, tx, server, route, desired)
			if err != nil {
				return err
			}
			result.Reconcile = &rec
		}

		result.Route = route
		return nil
	})
	if err != nil {
		s.recordFailure(operation, err)
		return nil, err
	}

	s.metrics.RecordRouteCommit(operation, "success")
	if result.Reconcile != nil {
		s.metrics.RecordReconcile(result.Reconcile.Created, result.Reconcile.Retained, result.Reconcile.Deleted)
	}
	s.logger.Info("Route saved",
		zap.String("operation", operation),
		zap.String("route_id", result.Route.ID),
		zap.String("server_id", server.ID),
		zap.String("name", result.Route.Name),
		zap.String("mode", string(result.Route.Mode)),
	)
	return &result, nil
}

func (s *RouteService) loadOrBuild(ctx context.Context, tx storage.RouteTx, server *domain.Server, id string) (*domain.Route, error) {
	if id == "" {
		return &domain.Route{ID: uuid.New().String(), ServerID: server.ID}, nil
	}
	route, err := tx.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}
	if route.ServerID != server.ID {
		return nil, storage.ErrRouteNotFound
	}
	return route, nil
}

func (s *RouteService) recordFailure(operation string, err error) {
	var verrs domain.ValidationErrors
	var invalid *domain.RecordInvalidError
	switch {
	case errors.As(err, &invalid):
		s.metrics.RecordRouteCommit(operation, "record_invalid")
		for _, fe := range invalid.Errors {
			s.metrics.RecordValidationError(fe.Field)
		}
	case errors.As(err, &verrs):
		s.metrics.RecordRouteCommit(operation, "invalid")
		for _, fe := range verrs {
			s.metrics.RecordValidationError(fe.Field)
		}
	case errors.Is(err, domain.ErrInvalidReference):
		s.metrics.RecordRouteCommit(operation, "invalid_reference")
	default:
		s.metrics.RecordRouteCommit(operation, "error")
		s.logger.Error("Failed to save route", zap.String("operation", operation), zap.Error(err))
	}
}

// uniqueToken 生成未被占用的路由令牌
func (s *RouteService) uniqueToken(ctx context.Context, tx storage.RouteTx) (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token, err := domain.GenerateRouteToken()
		if err != nil {
			return "", err
		}
		exists, err := tx.TokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrTokenExhausted
}

// Delete 删除路由及其附加目标
func (s *RouteService) Delete(ctx context.Context, serverID, id string) error {
	err := s.store.WithinTx(ctx, func(tx storage.RouteTx) error {
		route, err := tx.GetRoute(ctx, id)
		if err != nil {
			return err
		}
		if route.ServerID != serverID {
			return storage.ErrRouteNotFound
		}
		return tx.DeleteRoute(ctx, id)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordRouteCommit("delete", "success")
	s.logger.Info("Route deleted", zap.String("route_id", id), zap.String("server_id", serverID))
	return nil
}

// Get 获取服务器下的路由
func (s *RouteService) Get(ctx context.Context, serverID, id string) (*RouteView, error) {
	route, err := s.store.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}
	if route.ServerID != serverID {
		return nil, storage.ErrRouteNotFound
	}
	return s.view(ctx, route)
}

// List 列出服务器的路由，按名称排序
func (s *RouteService) List(ctx context.Context, serverID string) ([]RouteView, error) {
	if _, err := s.store.GetServer(ctx, serverID); err != nil {
		return nil, err
	}
	routes, err := s.store.ListRoutes(ctx, serverID)
	if err != nil {
		return nil, err
	}

	views := make([]RouteView, 0, len(routes))
	for i := range routes {
		v, err := s.view(ctx, &routes[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// Lookup 按收件地址查找路由：先精确匹配，再匹配通配路由
func (s *RouteService) Lookup(ctx context.Context, name, domainName string) (*domain.Route, error) {
	route, err := s.store.FindRouteByNameAndDomain(ctx, name, domainName)
	if err == nil {
		return route, nil
	}
	if !errors.Is(err, storage.ErrRouteNotFound) {
		return nil, err
	}
	return s.store.FindRouteByNameAndDomain(ctx, domain.WildcardName, domainName)
}

// LookupAddress 按完整邮箱地址查找路由
func (s *RouteService) LookupAddress(ctx context.Context, address string) (*domain.Route, error) {
	name, domainName, ok := domain.SplitAddress(address)
	if !ok {
		return nil, storage.ErrRouteNotFound
	}
	return s.Lookup(ctx, name, domainName)
}

func (s *RouteService) view(ctx context.Context, route *domain.Route) (*RouteView, error) {
	v := &RouteView{
		Route:          *route,
		Endpoint:       route.EndpointValue(),
		ForwardAddress: route.ForwardAddress(s.routeDomain),
	}

	if route.DomainID != nil {
		d, err := s.store.GetDomain(ctx, *route.DomainID)
		if err != nil && !errors.Is(err, storage.ErrDomainNotFound) {
			return nil, err
		}
		if d != nil {
			v.DomainName = d.Name
		}
	}
	v.Description = route.Description(v.DomainName)

	secondaries, err := s.store.ListSecondaryEndpoints(ctx, route.ID)
	if err != nil {
		return nil, err
	}
	v.AdditionalEndpoints = make([]string, 0, len(secondaries))
	for _, se := range secondaries {
		v.AdditionalEndpoints = append(v.AdditionalEndpoints, se.Ref().String())
	}
	return v, nil
}

// desiredEndpoints 去除空白项；nil 表示调用方未提供列表
func desiredEndpoints(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
