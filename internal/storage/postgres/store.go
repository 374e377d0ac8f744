package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// maxTxAttempts 可串行化事务冲突时的最大尝试次数
const maxTxAttempts = 3

// Store 基于 GORM 的路由表存储（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// PoolConfig 连接池参数，零值使用默认值
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(orDefault(pool.MaxOpenConns, 25))
	sqlDB.SetMaxIdleConns(orDefault(pool.MaxIdleConns, 5))
	lifetime := pool.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Organization{},
		&domain.Server{},
		&domain.MailDomain{},
		&domain.SMTPEndpoint{},
		&domain.HTTPEndpoint{},
		&domain.AddressEndpoint{},
		&domain.Route{},
		&domain.SecondaryEndpoint{},
		&domain.Webhook{},
		&domain.WebhookRequest{},
	)
}

// DB 返回底层 GORM 连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// ========== Route Repository ==========

// WithinTx 在可串行化事务中执行 fn，遇到序列化冲突时整体重试
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.RouteTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&routeTx{db: tx})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

// GetRoute 获取路由
func (s *Store) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	return getRoute(s.db.WithContext(ctx), id)
}

// ListRoutes 列出服务器的路由，按名称排序
func (s *Store) ListRoutes(ctx context.Context, serverID string) ([]domain.Route, error) {
	var routes []domain.Route
	err := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("name ASC").Order("created_at ASC").
		Find(&routes).Error
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// ListSecondaryEndpoints 列出路由的附加目标，按创建顺序
func (s *Store) ListSecondaryEndpoints(ctx context.Context, routeID string) ([]domain.SecondaryEndpoint, error) {
	return listSecondaries(s.db.WithContext(ctx), routeID)
}

// FindRouteByNameAndDomain 通过匹配键精确查找
func (s *Store) FindRouteByNameAndDomain(ctx context.Context, name, domainName string) (*domain.Route, error) {
	var route domain.Route
	err := s.db.WithContext(ctx).
		Where("match_key = ?", domain.RouteMatchKey(name, domainName, "")).
		First(&route).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrRouteNotFound
		}
		return nil, err
	}
	return &route, nil
}

func getRoute(db *gorm.DB, id string) (*domain.Route, error) {
	var route domain.Route
	if err := db.Where("id = ?", id).First(&route).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrRouteNotFound
		}
		return nil, err
	}
	return &route, nil
}

func listSecondaries(db *gorm.DB, routeID string) ([]domain.SecondaryEndpoint, error) {
	var list []domain.SecondaryEndpoint
	err := db.Where("route_id = ?", routeID).
		Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// routeTx 事务内的路由操作
type routeTx struct {
	db *gorm.DB
}

func (tx *routeTx) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	return getRoute(tx.db.WithContext(ctx), id)
}

func (tx *routeTx) FindConflictingRoute(ctx context.Context, name, domainName, excludeID string) (*domain.Route, error) {
	var route domain.Route
	err := tx.db.WithContext(ctx).
		Where("match_key = ? AND id <> ?", domain.RouteMatchKey(name, domainName, ""), excludeID).
		First(&route).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &route, nil
}

func (tx *routeTx) ReturnPathRouteExists(ctx context.Context, serverID, excludeID string) (bool, error) {
	var count int64
	err := tx.db.WithContext(ctx).Model(&domain.Route{}).
		Where("server_id = ? AND name = ? AND id <> ?", serverID, domain.ReturnPathName, excludeID).
		Count(&count).Error
	return count > 0, err
}

func (tx *routeTx) TokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	err := tx.db.WithContext(ctx).Model(&domain.Route{}).Where("token = ?", token).Count(&count).Error
	return count > 0, err
}

// SaveRoute 新路由插入，已有路由整体更新（保留创建时间）
func (tx *routeTx) SaveRoute(ctx context.Context, route *domain.Route) error {
	db := tx.db.WithContext(ctx)
	var err error
	if route.CreatedAt.IsZero() {
		err = db.Create(route).Error
	} else {
		err = db.Omit("created_at").Save(route).Error
	}
	return translateError(err)
}

// DeleteRoute 删除路由及其附加目标
func (tx *routeTx) DeleteRoute(ctx context.Context, id string) error {
	db := tx.db.WithContext(ctx)
	if err := db.Where("route_id = ?", id).Delete(&domain.SecondaryEndpoint{}).Error; err != nil {
		return err
	}
	result := db.Where("id = ?", id).Delete(&domain.Route{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrRouteNotFound
	}
	return nil
}

func (tx *routeTx) ListSecondaryEndpoints(ctx context.Context, routeID string) ([]domain.SecondaryEndpoint, error) {
	return listSecondaries(tx.db.WithContext(ctx), routeID)
}

func (tx *routeTx) CreateSecondaryEndpoint(ctx context.Context, endpoint *domain.SecondaryEndpoint) error {
	return tx.db.WithContext(ctx).Create(endpoint).Error
}

func (tx *routeTx) DeleteSecondaryEndpointsExcept(ctx context.Context, routeID string, keepIDs []string) (int, error) {
	q := tx.db.WithContext(ctx).Where("route_id = ?", routeID)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	result := q.Delete(&domain.SecondaryEndpoint{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
