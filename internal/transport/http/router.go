package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "leomail/backend/internal/auth/jwt"
	"leomail/backend/internal/config"
	"leomail/backend/internal/health"
	"leomail/backend/internal/middleware"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/service"
	"leomail/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	send        *service.SendService
	sendJobs    *service.SendJobService
	templates   *service.TemplateService
	attachments *service.AttachmentService
	permissions *service.PermissionService
	imports     *service.ImportStatus
	logger      *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	SendService       *service.SendService
	SendJobService    *service.SendJobService
	TemplateService   *service.TemplateService
	AttachmentService *service.AttachmentService
	PermissionService *service.PermissionService
	ImportStatus      *service.ImportStatus
	JWTManager        *jwtpkg.Manager
	WebSocketHub      *websocket.Hub              // 可选
	Health            *health.HealthChecker       // 可选
	Metrics           *monitoring.Metrics         // 可选
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
		router.Use(mm.PanicRecovery(), mm.HTTPMetrics(), mm.SystemMetrics())
	} else {
		router.Use(gin.Recovery())
	}
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(middleware.SecurityHeaders())

	// 只有发送接口接收附件
	uploadLimit := deps.Config.Server.MaxUploadSize
	if uploadLimit <= 0 {
		uploadLimit = middleware.DefaultUploadLimit
	}
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/v1/projects/:projectId/mails": uploadLimit,
	}, middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
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

	handler := &Handler{
		send:        deps.SendService,
		sendJobs:    deps.SendJobService,
		templates:   deps.TemplateService,
		attachments: deps.AttachmentService,
		permissions: deps.PermissionService,
		imports:     deps.ImportStatus,
		logger:      logger.Named("http"),
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, logger)

	// 健康检查
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// WebSocket 自行校验查询参数中的令牌
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		api := v1.Group("")
		api.Use(jwtAuth.RequireAuth())

		// ========== Mail Routes ==========
		projectRoutes := api.Group("/projects/:projectId")
		{
			projectRoutes.POST("/mails", handler.sendByTemplate)
			projectRoutes.GET("/send-jobs", handler.listSendJobs)
			projectRoutes.GET("/send-jobs/search", handler.searchSendJobs)
			projectRoutes.GET("/templates", handler.listTemplates)
			projectRoutes.POST("/templates", handler.createTemplate)
		}

		sendJobRoutes := api.Group("/send-jobs")
		{
			sendJobRoutes.GET("/:id", handler.getSendJob)
			sendJobRoutes.POST("/:id/send", handler.sendMail)
			sendJobRoutes.DELETE("/:id", handler.deleteSendJob)
		}

		// ========== Template Routes ==========
		templateRoutes := api.Group("/templates")
		{
			templateRoutes.GET("/:id", handler.getTemplate)
			templateRoutes.PUT("/:id", handler.updateTemplate)
			templateRoutes.DELETE("/:id", handler.deleteTemplate)
		}

		api.GET("/greetings", handler.listGreetings)
		api.GET("/greetings/:id", handler.getGreeting)

		// ========== Attachment Routes ==========
		api.GET("/attachments/:id", handler.downloadAttachment)

		api.GET("/import-status", handler.importStatus)
	}

	return router
}
