package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// defaultCheckTimeout 单项检查超时
const defaultCheckTimeout = 3 * time.Second

// Pinger 可以探测连通性的依赖（Redis、pgx 连接池）
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc 无上下文的健康检查（路由表、消息库的 Health 方法）
type HealthCheckFunc func() error

// HealthChecker 健康检查器。
//
// 存活检查只确认进程可响应；就绪检查覆盖路由表、消息库与可选的 Redis。
type HealthChecker struct {
	health  healthcheck.Handler
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	checks map[string]healthcheck.Check
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		logger:  logger,
		timeout: defaultCheckTimeout,
		checks:  make(map[string]healthcheck.Check),
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddCheck 注册一个就绪检查
func (hc *HealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	check := healthcheck.Timeout(healthcheck.Check(fn), hc.timeout)
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
	hc.health.AddReadinessCheck(name, check)
}

// AddPinger 以 Ping 注册就绪检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.AddCheck(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()
		return p.Ping(ctx)
	})
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行全部就绪检查，返回每项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	hc.mu.Lock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	checks := make(map[string]healthcheck.Check, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.Unlock()
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	for _, name := range names {
		if err := checks[name](); err != nil {
			hc.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
			continue
		}
		results[name] = "OK"
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results
}
