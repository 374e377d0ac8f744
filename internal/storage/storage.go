package storage

import (
	"context"
	"errors"
	"time"

	"mailroute/backend/internal/domain"
)

var (
	// ErrRouteNotFound 路由不存在
	ErrRouteNotFound = errors.New("route not found")
	// ErrServerNotFound 服务器不存在
	ErrServerNotFound = errors.New("server not found")
	// ErrDomainNotFound 域名不存在
	ErrDomainNotFound = errors.New("domain not found")
	// ErrEndpointNotFound 投递目标不存在
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMatchKey 违反路由匹配键唯一约束
	ErrDuplicateMatchKey = errors.New("route match key already exists")
	// ErrDuplicateToken 违反路由令牌唯一约束
	ErrDuplicateToken = errors.New("route token already exists")
)

// RouteTx 在一个可串行化事务内对路由表的操作。
type RouteTx interface {
	GetRoute(ctx context.Context, id string) (*domain.Route, error)
	// FindConflictingRoute 在整个路由表中查找同名同域名的其他路由（排除 excludeID）
	FindConflictingRoute(ctx context.Context, name, domainName, excludeID string) (*domain.Route, error)
	// ReturnPathRouteExists 查询服务器是否已有其他退信路由（排除 excludeID）
	ReturnPathRouteExists(ctx context.Context, serverID, excludeID string) (bool, error)
	TokenExists(ctx context.Context, token string) (bool, error)
	SaveRoute(ctx context.Context, route *domain.Route) error
	DeleteRoute(ctx context.Context, id string) error

	ListSecondaryEndpoints(ctx context.Context, routeID string) ([]domain.SecondaryEndpoint, error)
	CreateSecondaryEndpoint(ctx context.Context, endpoint *domain.SecondaryEndpoint) error
	// DeleteSecondaryEndpointsExcept 删除路由下 id 不在 keepIDs 中的附加目标，返回删除数量
	DeleteSecondaryEndpointsExcept(ctx context.Context, routeID string, keepIDs []string) (int, error)
}

// RouteRepository 路由表存储。
type RouteRepository interface {
	// WithinTx 在单个可串行化事务中执行 fn，fn 返回错误时全部回滚
	WithinTx(ctx context.Context, fn func(tx RouteTx) error) error

	GetRoute(ctx context.Context, id string) (*domain.Route, error)
	ListRoutes(ctx context.Context, serverID string) ([]domain.Route, error)
	ListSecondaryEndpoints(ctx context.Context, routeID string) ([]domain.SecondaryEndpoint, error)
	// FindRouteByNameAndDomain 精确查找 name@domainName 的路由
	FindRouteByNameAndDomain(ctx context.Context, name, domainName string) (*domain.Route, error)
}

// Directory 服务器/组织目录：投递目标清单、域名与上级组织。
type Directory interface {
	GetServer(ctx context.Context, id string) (*domain.Server, error)
	GetDomain(ctx context.Context, id string) (*domain.MailDomain, error)
	// FindDomainForServer 按名称查找服务器或其组织拥有的域名
	FindDomainForServer(ctx context.Context, server *domain.Server, name string) (*domain.MailDomain, error)

	GetSMTPEndpoint(ctx context.Context, id string) (*domain.SMTPEndpoint, error)
	GetHTTPEndpoint(ctx context.Context, id string) (*domain.HTTPEndpoint, error)
	GetAddressEndpoint(ctx context.Context, id string) (*domain.AddressEndpoint, error)
	// ListEndpoints 按类型列出服务器的投递目标，按创建时间排序
	ListEndpoints(ctx context.Context, serverID string, kind domain.EndpointKind) ([]domain.Endpoint, error)
}

// MessageDB 单个服务器的消息库。
type MessageDB interface {
	SchemaVersion() int
	NewMessage() *domain.Message
	InsertMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	InsertDelivery(ctx context.Context, delivery *domain.Delivery) error
	ListDeliveries(ctx context.Context, messageID string) ([]domain.Delivery, error)
}

// MessageDatabases 按服务器取得消息库。
type MessageDatabases interface {
	MessageDB(ctx context.Context, serverID string) (MessageDB, error)
}

// StatisticsStore 长期统计存储。
type StatisticsStore interface {
	IncrementBucket(ctx context.Context, serverID string, ts time.Time, counter string) error
}

// NotificationTransport 通知传输层，Dispatch 只负责入队，不等待投递结果。
type NotificationTransport interface {
	Dispatch(ctx context.Context, serverID string, kind domain.NotificationKind, payload interface{}) error
}

// WebhookRepository Webhook 订阅与请求记录。
type WebhookRepository interface {
	ListWebhooks(ctx context.Context, serverID string) ([]domain.Webhook, error)
	RecordWebhookRequest(ctx context.Context, request *domain.WebhookRequest) error
}

// Store 路由核心所需的完整存储。
type Store interface {
	RouteRepository
	Directory
	WebhookRepository

	Close() error
	Health() error
}
