package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/handler"
	"github.com/gongplan/gong-api/internal/middleware"
	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/service"
	"github.com/gongplan/gong-api/pkg/config"
	"github.com/gongplan/gong-api/pkg/logger"
	corsmiddleware "github.com/gongplan/gong-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gongplan/gong-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth      *service.AuthService
	metrics   *service.MetricsService
	ops       *handler.MetricsHandler
	centers   *handler.CenterHandler
	locks     *handler.LockHandler
	countdown *handler.CountdownHandler
	plans     *handler.PlanHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics, "/countdown"))

	r.GET("/health", deps.ops.Health)
	r.GET("/ready", deps.ops.Ready)
	r.GET("/metrics", deps.ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/exports/download", deps.plans.Download)
	api.GET("/centers/:name/countdown", deps.countdown.Stream)

	secured := api.Group("", middleware.JWT(deps.auth), middleware.RequireRoles(models.RoleAdmin, models.RolePlanner))
	secured.GET("/centers", deps.centers.List)

	center := secured.Group("/centers/:name", middleware.CenterAccess(deps.auth))
	center.GET("/lock", deps.locks.Status)
	center.POST("/lock", deps.locks.Claim)
	center.DELETE("/lock", deps.locks.Abandon)
	center.POST("/lock/commit", deps.locks.Commit)

	center.GET("/plan", deps.plans.Get)
	center.POST("/plan/refresh", deps.plans.Refresh)
	center.POST("/plan/lines", deps.plans.AddLine)
	center.DELETE("/plan/lines/:lineId", deps.plans.DeleteLine)
	center.POST("/plan/export", deps.plans.Export)

	return r
}
