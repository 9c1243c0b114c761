package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	adminhandler "github.com/FWU-DE/telli-dialog-sub004/api/handlers/admin"
	gatewayhandler "github.com/FWU-DE/telli-dialog-sub004/api/handlers/gateway"
	"github.com/FWU-DE/telli-dialog-sub004/internal/config"
	"github.com/FWU-DE/telli-dialog-sub004/internal/gateway"
	"github.com/FWU-DE/telli-dialog-sub004/internal/metrics"
	"github.com/FWU-DE/telli-dialog-sub004/internal/provider"
)

// Services 网关服务集合，进程启动时构建一次，依赖注入到各处理器
type Services struct {
	Auth     *gateway.AuthService
	Budget   *gateway.BudgetService
	Registry *gateway.RegistryService
	Usage    *gateway.UsageService
	Admin    *gateway.AdminService
	Factory  *provider.Factory
}

// NewServices 构建全部网关服务
func NewServices(db *gorm.DB, factory *provider.Factory) *Services {
	usage := gateway.NewUsageService(db)
	return &Services{
		Auth:     gateway.NewAuthService(db),
		Budget:   gateway.NewBudgetService(db, usage),
		Registry: gateway.NewRegistryService(db),
		Usage:    usage,
		Admin:    gateway.NewAdminService(db),
		Factory:  factory,
	}
}

// SetupRouter 构建 gin 引擎并注册全部路由
func SetupRouter(cfg *config.Config, db *gorm.DB, services *Services) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(), CORS(), metrics.PrometheusMiddleware())

	// 系统端点
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gw := gatewayhandler.NewHandler(services.Budget, services.Registry, services.Usage, services.Factory)
	adm := adminhandler.NewHandler(services.Admin, services.Registry)

	// 网关 API：API 密钥认证
	v1 := router.Group("/v1")
	v1.Use(ApiKeyAuth(services.Auth))
	{
		v1.POST("/chat/completions", gw.ChatCompletions)
		v1.POST("/embeddings", gw.Embeddings)
		v1.POST("/images/generations", gw.ImageGenerations)
		v1.GET("/models", gw.ListModels)
		v1.GET("/usage", gw.Usage)
	}

	// 管理 API：静态管理密钥认证
	adminGroup := router.Group("/v1/admin")
	adminGroup.Use(AdminAuth(cfg.Admin.APIKey))
	{
		adminGroup.POST("/organizations", adm.CreateOrganization)
		adminGroup.GET("/organizations", adm.ListOrganizations)
		adminGroup.POST("/organizations/:orgId/projects", adm.CreateProject)
		adminGroup.GET("/organizations/:orgId/projects", adm.ListProjects)
		adminGroup.POST("/api-keys", adm.CreateApiKey)
		adminGroup.GET("/api-keys", adm.ListApiKeys)
		adminGroup.PATCH("/api-keys/:id", adm.UpdateApiKey)
		adminGroup.POST("/models", adm.CreateModel)
		adminGroup.GET("/models", adm.ListModels)
		adminGroup.PATCH("/models/:id", adm.UpdateModel)
		adminGroup.DELETE("/models/:id", adm.DeleteModel)
	}

	return router
}
