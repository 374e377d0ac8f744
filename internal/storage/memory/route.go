package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// ========== Route Repository ==========

// WithinTx 在快照上执行 fn，成功才提交
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.RouteTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	tx := &routeTx{
		store:       s,
		routes:      cloneRoutes(s.routes),
		secondaries: cloneSecondaries(s.secondaries),
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.routes = tx.routes
	s.secondaries = tx.secondaries
	s.mu.Unlock()
	return nil
}

// GetRoute 根据 ID 获取路由
func (s *Store) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	if !ok {
		return nil, storage.ErrRouteNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRoutes 返回服务器的全部路由，按名称排序
func (s *Store) ListRoutes(ctx context.Context, serverID string) ([]domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Route
	for _, r := range s.routes {
		if r.ServerID == serverID {
			out = append(out, *r)
		}
	}
	sortRoutes(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListSecondaryEndpoints 返回路由的附加目标
func (s *Store) ListSecondaryEndpoints(ctx context.Context, routeID string) ([]domain.SecondaryEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSecondaries(s.secondaries, routeID), nil
}

// FindRouteByNameAndDomain 精确查找路由
func (s *Store) FindRouteByNameAndDomain(ctx context.Context, name, domainName string) (*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.findByNameAndDomainLocked(s.routes, name, domainName, ""); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, storage.ErrRouteNotFound
}

// findByNameAndDomainLocked 调用方需持有 s.mu 读锁
func (s *Store) findByNameAndDomainLocked(routes map[string]*domain.Route, name, domainName, excludeID string) *domain.Route {
	var candidates []domain.Route
	for _, r := range routes {
		if r.ID == excludeID || r.Name != name || r.DomainID == nil {
			continue
		}
		d, ok := s.domains[*r.DomainID]
		if !ok || !strings.EqualFold(d.Name, domainName) {
			continue
		}
		candidates = append(candidates, *r)
	}
	if len(candidates) == 0 {
		return nil
	}
	sortRoutes(candidates)
	return &candidates[0]
}

func listSecondaries(all map[string]*domain.SecondaryEndpoint, routeID string) []domain.SecondaryEndpoint {
	var out []domain.SecondaryEndpoint
	for _, se := range all {
		if se.RouteID == routeID {
			out = append(out, *se)
		}
	}
	sortSecondaries(out)
	return out
}

// routeTx 事务内视图，只修改快照
type routeTx struct {
	store       *Store
	routes      map[string]*domain.Route
	secondaries map[string]*domain.SecondaryEndpoint
}

func (tx *routeTx) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	r, ok := tx.routes[id]
	if !ok {
		return nil, storage.ErrRouteNotFound
	}
	cp := *r
	return &cp, nil
}

func (tx *routeTx) FindConflictingRoute(ctx context.Context, name, domainName, excludeID string) (*domain.Route, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.findByNameAndDomainLocked(tx.routes, name, domainName, excludeID), nil
}

func (tx *routeTx) ReturnPathRouteExists(ctx context.Context, serverID, excludeID string) (bool, error) {
	for _, r := range tx.routes {
		if r.ID != excludeID && r.ServerID == serverID && r.Name == domain.ReturnPathName {
			return true, nil
		}
	}
	return false, nil
}

func (tx *routeTx) TokenExists(ctx context.Context, token string) (bool, error) {
	for _, r := range tx.routes {
		if r.Token == token {
			return true, nil
		}
	}
	return false, nil
}

// SaveRoute 插入或更新路由，同时检查匹配键与令牌的唯一约束
func (tx *routeTx) SaveRoute(ctx context.Context, route *domain.Route) error {
	for id, r := range tx.routes {
		if id == route.ID {
			continue
		}
		if r.MatchKey == route.MatchKey {
			return storage.ErrDuplicateMatchKey
		}
		if r.Token == route.Token {
			return storage.ErrDuplicateToken
		}
	}

	now := time.Now().UTC()
	if existing, ok := tx.routes[route.ID]; ok {
		route.CreatedAt = existing.CreatedAt
	} else if route.CreatedAt.IsZero() {
		route.CreatedAt = now
	}
	route.UpdatedAt = now

	cp := *route
	tx.routes[route.ID] = &cp
	return nil
}

// DeleteRoute 删除路由并级联删除其附加目标
func (tx *routeTx) DeleteRoute(ctx context.Context, id string) error {
	if _, ok := tx.routes[id]; !ok {
		return storage.ErrRouteNotFound
	}
	delete(tx.routes, id)
	for seID, se := range tx.secondaries {
		if se.RouteID == id {
			delete(tx.secondaries, seID)
		}
	}
	return nil
}

func (tx *routeTx) ListSecondaryEndpoints(ctx context.Context, routeID string) ([]domain.SecondaryEndpoint, error) {
	return listSecondaries(tx.secondaries, routeID), nil
}

func (tx *routeTx) CreateSecondaryEndpoint(ctx context.Context, endpoint *domain.SecondaryEndpoint) error {
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = time.Now().UTC()
	}
	cp := *endpoint
	tx.secondaries[endpoint.ID] = &cp
	return nil
}

func (tx *routeTx) DeleteSecondaryEndpointsExcept(ctx context.Context, routeID string, keepIDs []string) (int, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	deleted := 0
	for id, se := range tx.secondaries {
		if se.RouteID != routeID {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		delete(tx.secondaries, id)
		deleted++
	}
	return deleted, nil
}
