package memory

import (
	"sort"
	"sync"

	"mailroute/backend/internal/domain"
)

// Store 使用内存保存路由表与目录数据，主要用于开发验证和测试。
//
// 路由表的写操作全部经过 WithinTx：事务在快照上执行，成功后整体替换，
// 失败时快照直接丢弃。txMu 保证事务之间串行。
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	routes      map[string]*domain.Route             // routeID -> route
	secondaries map[string]*domain.SecondaryEndpoint // secondaryID -> endpoint

	organizations map[string]*domain.Organization
	servers       map[string]*domain.Server
	domains       map[string]*domain.MailDomain
	smtpEndpoints map[string]*domain.SMTPEndpoint
	httpEndpoints map[string]*domain.HTTPEndpoint
	addrEndpoints map[string]*domain.AddressEndpoint

	// Webhook 存储
	webhooks        map[string]*domain.Webhook
	webhookRequests []*domain.WebhookRequest
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		routes:        make(map[string]*domain.Route),
		secondaries:   make(map[string]*domain.SecondaryEndpoint),
		organizations: make(map[string]*domain.Organization),
		servers:       make(map[string]*domain.Server),
		domains:       make(map[string]*domain.MailDomain),
		smtpEndpoints: make(map[string]*domain.SMTPEndpoint),
		httpEndpoints: make(map[string]*domain.HTTPEndpoint),
		addrEndpoints: make(map[string]*domain.AddressEndpoint),
		webhooks:      make(map[string]*domain.Webhook),
	}
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终健康
func (s *Store) Health() error {
	return nil
}

func cloneRoutes(in map[string]*domain.Route) map[string]*domain.Route {
	out := make(map[string]*domain.Route, len(in))
	for id, r := range in {
		cp := *r
		if r.DomainID != nil {
			d := *r.DomainID
			cp.DomainID = &d
		}
		out[id] = &cp
	}
	return out
}

func cloneSecondaries(in map[string]*domain.SecondaryEndpoint) map[string]*domain.SecondaryEndpoint {
	out := make(map[string]*domain.SecondaryEndpoint, len(in))
	for id, se := range in {
		cp := *se
		out[id] = &cp
	}
	return out
}

// sortSecondaries 按创建时间和 ID 排序，保证遍历顺序稳定
func sortSecondaries(list []domain.SecondaryEndpoint) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func sortRoutes(list []domain.Route) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
