package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	"github.com/rbignon/speedfog-racing-sub000/internal/middleware"
	"github.com/rbignon/speedfog-racing-sub000/internal/race"
	"github.com/rbignon/speedfog-racing-sub000/internal/utils"
	ws "github.com/rbignon/speedfog-racing-sub000/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	authHandler    *AuthHandler
	raceHandler    *RaceHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, service *race.Service, wsHandler *ws.Handler, cfg *config.Config, log *zap.Logger) *Router {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	jwtManager := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.AccessExpiry)

	router := &Router{
		engine:         engine,
		db:             db,
		authHandler:    NewAuthHandler(db, jwtManager),
		raceHandler:    NewRaceHandler(db, service),
		wsHandler:      NewWebSocketHandler(wsHandler, &cfg.WebSocket),
		authMiddleware: middleware.NewAuthMiddleware(jwtManager),
		log:            log,
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
		}

		// 比赛查询（观战UI使用，不需要认证）
		v1.GET("/races", r.raceHandler.ListRaces)
		v1.GET("/races/:id", r.raceHandler.GetRace)

		// 比赛管理（需要主办方认证）
		races := v1.Group("/races")
		races.Use(r.authMiddleware.RequireAuth())
		{
			races.POST("", r.raceHandler.CreateRace)
			races.POST("/:id/participants", r.raceHandler.RegisterParticipant)
			races.POST("/:id/countdown", r.raceHandler.StartCountdown)
			races.POST("/:id/start", r.raceHandler.StartRace)
			races.POST("/:id/participants/:pid/forfeit", r.raceHandler.ForfeitParticipant)
		}

		// 种子管理（需要主办方认证）
		seeds := v1.Group("/seeds")
		seeds.Use(r.authMiddleware.RequireAuth())
		{
			seeds.POST("", r.raceHandler.CreateSeed)
			seeds.GET("", r.raceHandler.ListSeeds)
		}
	}

	// WebSocket路由
	wsGroup := r.engine.Group("/ws")
	{
		wsGroup.GET("/race", r.wsHandler.RaceWebSocket)
		wsGroup.GET("/watch/:id", r.wsHandler.WatchWebSocket)
	}

	// OpenAPI规格与Redoc文档
	registerOpenAPIRoutes(r.engine)

	// Swagger文档（-tags swagger 时启用）
	registerSwaggerRoutes(r.engine)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
