package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/health"
	"mailroute/backend/internal/middleware"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/service"
)

const (
	routeImportPath = "/api/v1/servers/:serverId/routes/import"
	requestTimeout  = 30 * time.Second
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	RouteService      *service.RouteService
	RouteImporter     *service.RouteImporter
	Dispatcher        *service.Dispatcher
	DeliveryProcessor *service.DeliveryProcessor
	Health            *health.HealthChecker // 可为 nil
	Metrics           *monitoring.Metrics   // 可为 nil
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(monitor.SystemMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Timeout(requestTimeout))
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		routeImportPath: middleware.ImportBodyLimit,
	}, middleware.DefaultBodyLimit))

	// CORS 配置
	var origins []string
	if deps.Config != nil {
		origins = deps.Config.CORS.AllowedOrigins
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsConfig := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		c.JSON(http.StatusOK, deps.Health.CheckHealth())
	})
	if deps.Health != nil {
		probes := http.StripPrefix("/health", deps.Health.Handler())
		router.GET("/health/live", gin.WrapH(probes))
		router.GET("/health/ready", gin.WrapH(probes))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	routeHandler := NewRouteHandler(deps.RouteService, deps.RouteImporter, logger)
	messageHandler := NewMessageHandler(deps.RouteService, deps.Dispatcher, deps.DeliveryProcessor, logger)

	v1 := router.Group("/api/v1")
	servers := v1.Group("/servers/:serverId")
	{
		// ========== Route Table ==========
		routes := servers.Group("/routes")
		routes.GET("", routeHandler.listRoutes)
		routes.POST("", routeHandler.createRoute)
		routes.POST("/import", routeHandler.importRoutes)
		routes.GET("/:id", routeHandler.getRoute)
		routes.PUT("/:id", routeHandler.updateRoute)
		routes.DELETE("/:id", routeHandler.deleteRoute)

		// ========== Messages ==========
		if deps.Dispatcher != nil && deps.DeliveryProcessor != nil {
			messages := servers.Group("/messages")
			messages.POST("", messageHandler.createMessages)
			messages.POST("/:messageId/deliveries", messageHandler.recordDelivery)
			messages.GET("/:messageId/deliveries", messageHandler.listDeliveries)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, MsgNotFound)
	})

	return router
}
