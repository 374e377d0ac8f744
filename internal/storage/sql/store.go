package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // SQLite driver

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// 支持的驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// sqliteSchema SQLite 没有 GORM 方言，直接建表，列名与 GORM 迁移一致
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	token TEXT,
	scope TEXT NOT NULL,
	rcpt_to TEXT,
	mail_from TEXT,
	domain_id TEXT,
	route_id TEXT,
	endpoint_kind TEXT,
	endpoint_id TEXT,
	subject TEXT,
	message_id TEXT,
	spam_status TEXT,
	tag TEXT,
	raw BLOB,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_server_id ON messages(server_id);
CREATE INDEX IF NOT EXISTS idx_messages_route_id ON messages(route_id);

CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	status TEXT,
	details TEXT,
	output TEXT,
	sent_with_ssl BOOLEAN NOT NULL DEFAULT 0,
	time REAL,
	log_id TEXT,
	timestamp REAL,
	extra TEXT
);
CREATE INDEX IF NOT EXISTS idx_deliveries_message_id ON deliveries(message_id);
`

// MessageStore SQL 消息库（支持 MySQL、PostgreSQL 和 SQLite）。
// 所有服务器共用一组表，按 server_id 隔离。
type MessageStore struct {
	db            *sql.DB
	gormDB        *gorm.DB // GORM实例，用于迁移
	driverName    string
	schemaVersion int
}

var _ storage.MessageDatabases = (*MessageStore)(nil)

// NewMessageStore 创建SQL消息库
func NewMessageStore(
	driverName string,
	dsn string,
	schemaVersion int,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*MessageStore, error) {
	switch driverName {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres, sqlite)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == DriverSQLite {
		// SQLite 写入需要串行
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MessageStore{
		db:            db,
		driverName:    driverName,
		schemaVersion: schemaVersion,
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch driverName {
	case DriverMySQL:
		store.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	case DriverPostgres:
		store.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close 关闭数据库连接
func (s *MessageStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *MessageStore) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 执行数据库迁移
func (s *MessageStore) migrate() error {
	if s.gormDB == nil {
		_, err := s.db.Exec(sqliteSchema)
		return err
	}
	return s.gormDB.AutoMigrate(
		&domain.Message{},
		&domain.Delivery{},
	)
}

// MessageDB 返回服务器的消息库视图
func (s *MessageStore) MessageDB(ctx context.Context, serverID string) (storage.MessageDB, error) {
	return &MessageDB{store: s, serverID: serverID}, nil
}

// placeholder 根据数据库类型返回占位符
func (s *MessageStore) placeholder(n int) string {
	if s.driverName == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// placeholders 返回 n 个以逗号分隔的占位符
func (s *MessageStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
