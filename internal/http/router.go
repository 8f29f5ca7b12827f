package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/brandguard/backend/internal/http/handlers"
	httpMW "github.com/brandguard/backend/internal/http/middleware"
	"github.com/brandguard/backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuditHandler  *httpH.AuditHandler
	ChatHandler   *httpH.ChatHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("brandguard"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AuditHandler != nil {
			api.POST("/audit", cfg.AuditHandler.Submit)
			api.GET("/audit/history", cfg.AuditHandler.History)
			api.GET("/audit/:task_id", cfg.AuditHandler.GetStatus)
		}
		if cfg.ChatHandler != nil {
			api.POST("/chat", cfg.ChatHandler.Chat)
		}
	}

	return r
}
