package hybrid

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/health"
	"mailroute/backend/internal/storage"
	"mailroute/backend/internal/storage/memory"
	"mailroute/backend/internal/storage/postgres"
	"mailroute/backend/internal/storage/redis"
	sqlstore "mailroute/backend/internal/storage/sql"
)

// Backends 按配置组合的存储：路由表（GORM 或内存）、消息库（SQL 或内存）、统计（内存、Redis 或 pgx）
type Backends struct {
	Store      storage.Store
	Messages   storage.MessageDatabases
	Statistics storage.StatisticsStore

	// Memory 使用内存路由表时非 nil，便于开发环境写入目录数据
	Memory *memory.Store

	redis   *redis.Client
	pg      *postgres.Client
	sqlMsgs *sqlstore.MessageStore
	log     *zap.Logger
}

// Open 根据配置创建全部存储，任一失败时关闭已创建的连接
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Backends, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Backends{log: log}

	if err := b.openRouteStore(cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openMessageStore(cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openStatistics(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) openRouteStore(cfg *config.Config) error {
	pool := postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	switch cfg.Database.Type {
	case "":
		b.Memory = memory.NewStore()
		b.Store = b.Memory
		b.log.Info("using memory route store (development mode)")
		return nil
	case "mysql":
		store, err := postgres.NewMySQLStore(cfg.Database.DSN, pool)
		if err != nil {
			return fmt.Errorf("failed to initialize route store: %w", err)
		}
		b.Store = store
	case "postgres":
		store, err := postgres.NewStore(cfg.Database.DSN, pool)
		if err != nil {
			return fmt.Errorf("failed to initialize route store: %w", err)
		}
		b.Store = store
	default:
		return fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Database.Type)
	}
	b.log.Info("using database route store", zap.String("type", cfg.Database.Type))
	return nil
}

func (b *Backends) openMessageStore(cfg *config.Config) error {
	if cfg.MessageDB.Type == "" {
		b.Messages = memory.NewMessageStore(cfg.MessageDB.SchemaVersion)
		b.log.Info("using memory message database", zap.Int("schema_version", cfg.MessageDB.SchemaVersion))
		return nil
	}

	store, err := sqlstore.NewMessageStore(
		cfg.MessageDB.Type,
		cfg.MessageDB.DSN,
		cfg.MessageDB.SchemaVersion,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize message database: %w", err)
	}
	b.sqlMsgs = store
	b.Messages = store
	b.log.Info("using SQL message database",
		zap.String("type", cfg.MessageDB.Type),
		zap.Int("schema_version", cfg.MessageDB.SchemaVersion),
	)
	return nil
}

func (b *Backends) openStatistics(ctx context.Context, cfg *config.Config) error {
	switch cfg.Statistics.Driver {
	case "redis":
		client, err := redis.New(&cfg.Redis, b.log)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		b.redis = client
		b.Statistics = redis.NewStatisticsStore(client)
	case "postgres":
		client, err := postgres.New(&cfg.Database, b.log)
		if err != nil {
			return fmt.Errorf("failed to initialize statistics pool: %w", err)
		}
		b.pg = client
		stats, err := postgres.NewStatisticsStore(ctx, client)
		if err != nil {
			return err
		}
		b.Statistics = stats
	default:
		b.Statistics = memory.NewStatisticsStore()
	}
	b.log.Info("statistics store initialized", zap.String("driver", cfg.Statistics.Driver))
	return nil
}

// RegisterHealthChecks 为每个已打开的后端注册就绪检查
func (b *Backends) RegisterHealthChecks(hc *health.HealthChecker) {
	if b.Store != nil {
		hc.AddCheck("route_store", b.Store.Health)
	}
	if b.sqlMsgs != nil {
		hc.AddCheck("message_db", b.sqlMsgs.Health)
	}
	if b.redis != nil {
		hc.AddPinger("redis", b.redis)
	}
	if b.pg != nil {
		hc.AddPinger("statistics_db", b.pg)
	}
}

// Close 关闭全部连接
func (b *Backends) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.sqlMsgs != nil {
		errs = append(errs, b.sqlMsgs.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.pg != nil {
		b.pg.Close()
	}
	return errors.Join(errs...)
}
