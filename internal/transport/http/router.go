// Package httptransport 暴露推送通知、手动触发和运维探针的 HTTP 接口。
package httptransport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailingest/backend/internal/auth"
	"mailingest/backend/internal/config"
	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/health"
	"mailingest/backend/internal/middleware"
	"mailingest/backend/internal/monitoring"
)

// Ingestor 是 HTTP 层调用的摄取入口，*ingest.Orchestrator 满足该接口
type Ingestor interface {
	HandleEvent(ctx context.Context, ev domain.Event) (*domain.RunSummary, error)
	Run(ctx context.Context, hint uint64) (*domain.RunSummary, error)
	ProcessMessage(ctx context.Context, messageID string) (*domain.RunSummary, error)
	ProcessRaw(ctx context.Context, raw []byte) (*domain.RunSummary, error)
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Ingestor      Ingestor
	JWTManager    *auth.JWTManager          // 为 nil 时不注册手动触发接口
	PushValidator middleware.TokenValidator // 推送令牌校验器，PushAudience 为空时可为 nil
	Health        *health.HealthChecker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if !deps.Config.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	mon := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(mon.PanicRecovery())
	router.Use(mon.HTTPMetrics())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())

	// 运维探针
	router.GET("/health", healthReport(deps.Health))
	router.GET("/live", gin.WrapF(deps.Health.LiveHandler()))
	router.GET("/ready", gin.WrapF(deps.Health.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// Pub/Sub 推送
	push := NewPushHandler(deps.Ingestor, deps.Config.Gmail.User, log)
	router.POST("/pubsub/push",
		middleware.BodySizeLimit(middleware.SmallBodyLimit),
		middleware.PushAuth(deps.PushValidator, deps.Config.PubSub.PushAudience, deps.Config.PubSub.PushAccount, log),
		push.Handle,
	)

	// 手动触发
	if deps.JWTManager != nil {
		jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)
		ingestHandler := NewIngestHandler(deps.Ingestor, log)

		api := router.Group("/api/v1")
		api.POST("/ingest",
			middleware.BodySizeLimit(middleware.SmallBodyLimit),
			jwtAuth.RequireScope(auth.ScopeIngest),
			ingestHandler.Trigger,
		)
		api.POST("/ingest/raw",
			middleware.BodySizeLimit(middleware.RawMessageLimit),
			jwtAuth.RequireScope(auth.ScopeRaw),
			ingestHandler.Raw,
		)
	} else {
		log.Info("operator api disabled, auth secret not configured")
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "接口不存在")
	})

	return router
}

// healthReport 返回包含各项检查结果的 JSON 报告，任一检查失败时状态码为 503
func healthReport(hc *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
