package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/health"
	"mailroute/backend/internal/logger"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/pool"
	"mailroute/backend/internal/service"
	"mailroute/backend/internal/storage"
	"mailroute/backend/internal/storage/hybrid"
	"mailroute/backend/internal/storage/memory"
	"mailroute/backend/internal/transport/kafka"
	httptransport "mailroute/backend/internal/transport/http"
)

// main 启动路由表 HTTP API，并按配置接入统计与投递通知。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailroute server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("route_domain", cfg.Routing.RouteDomain),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	backends, err := hybrid.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 开发环境下为内存存储写入示例目录数据
	if backends.Memory != nil && cfg.Log.Development {
		seedDevelopmentDirectory(backends.Memory, log)
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(logger.Named(log, "health"))
	backends.RegisterHealthChecks(healthChecker)

	// 通知传输层
	transport, startTransport, stopTransport, err := buildTransport(cfg, backends.Store, log, metrics)
	if err != nil {
		log.Fatal("failed to initialize notification transport", zap.Error(err))
	}

	// 初始化服务层
	routeService := service.NewRouteService(backends.Store, cfg.Routing.RouteDomain, logger.Named(log, "route"), metrics)
	importer := service.NewRouteImporter(routeService, backends.Store, logger.Named(log, "import"), metrics)
	dispatcher := service.NewDispatcher(backends.Store, backends.Messages, logger.Named(log, "dispatcher"), metrics,
		service.WithFanoutConcurrency(cfg.Routing.FanoutConcurrency),
	)
	deliveries := service.NewDeliveryProcessor(backends.Messages, backends.Statistics, transport, logger.Named(log, "delivery"), metrics)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		RouteService:      routeService,
		RouteImporter:     importer,
		Dispatcher:        dispatcher,
		DeliveryProcessor: deliveries,
		Health:            healthChecker,
		Metrics:           metrics,
		Logger:            logger.Named(log, "http"),
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// 通知传输层在 HTTP 服务器关闭后才停止，不随信号取消
	startTransport(context.WithoutCancel(ctx))

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// HTTP 请求全部结束后再停止通知，排队中的通知会发送完毕
		stopTransport()

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// buildTransport 按配置创建通知传输层，driver 为 none 时返回 nil 传输
func buildTransport(cfg *config.Config, store storage.Store, log *zap.Logger, metrics *monitoring.Metrics) (storage.NotificationTransport, func(context.Context), func(), error) {
	noop := func() {}
	noopStart := func(context.Context) {}
	n := cfg.Notifications

	switch n.Driver {
	case "webhook":
		workers := pool.NewWorkerPool(n.Workers, n.QueueSize, logger.Named(log, "webhook_pool"))
		notifier := service.NewWebhookNotifier(store, workers, service.WebhookNotifierConfig{
			Timeout:       n.Timeout,
			RatePerSecond: n.RatePerSecond,
			Burst:         n.Burst,
			MaxAttempts:   n.MaxAttempts,
		}, logger.Named(log, "webhook"), metrics)
		log.Info("notification transport: webhook",
			zap.Int("workers", n.Workers),
			zap.Int("max_attempts", n.MaxAttempts),
		)
		return notifier, notifier.Start, notifier.Stop, nil

	case "kafka":
		producer, err := kafka.NewProducer(n.KafkaBrokers)
		if err != nil {
			return nil, nil, nil, err
		}
		workers := pool.NewWorkerPool(n.Workers, n.QueueSize, logger.Named(log, "kafka_pool"))
		publisher := kafka.NewPublisher(producer, n.KafkaTopic, workers, logger.Named(log, "kafka"), metrics)
		log.Info("notification transport: kafka",
			zap.Strings("brokers", n.KafkaBrokers),
			zap.String("topic", n.KafkaTopic),
		)
		return publisher, publisher.Start, publisher.Stop, nil

	default:
		log.Info("notification transport disabled")
		return nil, noopStart, noop, nil
	}
}

// seedDevelopmentDirectory 写入开发用的组织、服务器、域名与投递目标
func seedDevelopmentDirectory(store *memory.Store, log *zap.Logger) {
	now := time.Now()
	store.SaveOrganization(&domain.Organization{ID: "dev-org", Permalink: "dev"})
	store.SaveServer(&domain.Server{ID: "dev-server", OrganizationID: "dev-org", Permalink: "mail"})
	store.SaveDomain(&domain.MailDomain{
		ID:         "dev-domain",
		Name:       "example.test",
		OwnerType:  domain.DomainOwnerServer,
		OwnerID:    "dev-server",
		VerifiedAt: &now,
	})
	store.SaveEndpoint(&domain.HTTPEndpoint{ID: "dev-http", ServerID: "dev-server", URL: "http://localhost:9000/inbound"})
	store.SaveEndpoint(&domain.SMTPEndpoint{ID: "dev-smtp", ServerID: "dev-server", Hostname: "localhost", Port: 2525})
	store.SaveEndpoint(&domain.AddressEndpoint{ID: "dev-address", ServerID: "dev-server", Address: "team@example.org"})

	log.Info("development directory seeded",
		zap.String("server_id", "dev-server"),
		zap.String("domain", "example.test"),
	)
}
