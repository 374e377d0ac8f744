package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/security"
	"mailroute/backend/internal/storage"
)

// EndpointStampingSchemaVersion 消息库支持投递目标标记的最低结构版本
const EndpointStampingSchemaVersion = 18

// ContentFunc 填充邮件内容（主题、正文、头部），同一入站邮件的每个目标都会调用一次
type ContentFunc func(message *domain.Message)

// Dispatcher 为路由的每个投递目标创建一封邮件
type Dispatcher struct {
	store       RouteStore
	messages    storage.MessageDatabases
	resolver    *EndpointResolver
	filter      *security.ContentFilter
	concurrency int
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

// DispatcherOption 扇出器选项
type DispatcherOption func(*Dispatcher)

// WithContentFilter 替换自动回复过滤器
func WithContentFilter(filter *security.ContentFilter) DispatcherOption {
	return func(d *Dispatcher) { d.filter = filter }
}

// WithFanoutConcurrency 设置附加邮件并行写入数
func WithFanoutConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDispatcher 创建扇出器
func NewDispatcher(store RouteStore, messages storage.MessageDatabases, logger *zap.Logger, metrics *monitoring.Metrics, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:       store,
		messages:    messages,
		resolver:    NewEndpointResolver(store),
		filter:      security.NewContentFilter(),
		concurrency: 4,
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateMessages 为路由创建邮件：主邮件总是创建；
// 主题不属于自动回复且路由为 Endpoint 模式时，为每个可解析的附加目标再创建一封。
//
// 返回已持久化的邮件，主邮件排在第一位。
// 附加邮件写入失败时返回已成功的邮件和错误。
func (d *Dispatcher) CreateMessages(ctx context.Context, route *domain.Route, fill ContentFunc) ([]*domain.Message, error) {
	start := time.Now()
	defer func() { d.metrics.RecordFanoutDuration(time.Since(start)) }()

	db, err := d.messages.MessageDB(ctx, route.ServerID)
	if err != nil {
		return nil, fmt.Errorf("open message db: %w", err)
	}

	rcptTo, err := d.description(ctx, route)
	if err != nil {
		return nil, err
	}
	stamping := route.Mode == domain.RouteModeEndpoint && db.SchemaVersion() >= EndpointStampingSchemaVersion

	primary := d.buildMessage(db, route, rcptTo)
	if ref, ok := route.EndpointRef(); ok && stamping {
		primary.StampEndpoint(ref)
	}
	if fill != nil {
		fill(primary)
	}
	if err := db.InsertMessage(ctx, primary); err != nil {
		return nil, fmt.Errorf("insert primary message: %w", err)
	}
	d.metrics.RecordMessageCreated("primary")
	messages := []*domain.Message{primary}

	if matched, marker := d.filter.IsAutoGenerated(primary.Subject); matched {
		d.metrics.RecordFanoutSuppressed()
		d.logger.Debug("Fan-out suppressed for auto-generated message",
			zap.String("route_id", route.ID),
			zap.String("message_id", primary.ID),
			zap.String("marker", marker),
		)
		return messages, nil
	}
	if !stamping {
		return messages, nil
	}

	secondaries, err := d.buildSecondaries(ctx, db, route, rcptTo, fill)
	if err != nil {
		return messages, err
	}

	// 主邮件已写入，附加邮件彼此独立，可并行写入
	inserted := make([]bool, len(secondaries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, m := range secondaries {
		i, m := i, m
		g.Go(func() error {
			if err := db.InsertMessage(gctx, m); err != nil {
				return fmt.Errorf("insert message for %s#%s: %w", m.EndpointKind, m.EndpointID, err)
			}
			inserted[i] = true
			return nil
		})
	}
	waitErr := g.Wait()

	for i, m := range secondaries {
		if inserted[i] {
			messages = append(messages, m)
			d.metrics.RecordMessageCreated("secondary")
		}
	}
	if waitErr != nil {
		d.logger.Error("Failed to persist secondary messages",
			zap.String("route_id", route.ID),
			zap.Int("persisted", len(messages)),
			zap.Error(waitErr),
		)
		return messages, waitErr
	}
	return messages, nil
}

// buildSecondaries 为可解析的附加目标构造邮件并调用 fill，顺序与附加目标一致
func (d *Dispatcher) buildSecondaries(ctx context.Context, db storage.MessageDB, route *domain.Route, rcptTo string, fill ContentFunc) ([]*domain.Message, error) {
	list, err := d.store.ListSecondaryEndpoints(ctx, route.ID)
	if err != nil {
		return nil, fmt.Errorf("list secondary endpoints: %w", err)
	}

	out := make([]*domain.Message, 0, len(list))
	for _, se := range list {
		ep, err := d.resolver.Resolve(ctx, se.Ref())
		if err != nil && !errors.Is(err, domain.ErrInvalidReference) {
			return nil, err
		}
		if ep == nil {
			d.metrics.RecordSecondaryUnresolved()
			d.logger.Warn("Skipping unresolved secondary endpoint",
				zap.String("route_id", route.ID),
				zap.String("endpoint", se.Ref().String()),
			)
			continue
		}

		m := d.buildMessage(db, route, rcptTo)
		m.StampEndpoint(se.Ref())
		if fill != nil {
			fill(m)
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *Dispatcher) buildMessage(db storage.MessageDB, route *domain.Route, rcptTo string) *domain.Message {
	m := db.NewMessage()
	m.Scope = domain.MessageScopeIncoming
	m.RcptTo = rcptTo
	if route.DomainID != nil {
		id := *route.DomainID
		m.DomainID = &id
	}
	m.RouteID = route.ID
	return m
}

// description 计算收件人描述，需要时查询域名
func (d *Dispatcher) description(ctx context.Context, route *domain.Route) (string, error) {
	if route.IsReturnPath() || route.DomainID == nil {
		return route.Description(""), nil
	}
	dom, err := d.store.GetDomain(ctx, *route.DomainID)
	if err != nil {
		return "", fmt.Errorf("load route domain: %w", err)
	}
	return route.Description(dom.Name), nil
}
