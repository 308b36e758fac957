package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rbignon/speedfog-racing-sub000/internal/api"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	"github.com/rbignon/speedfog-racing-sub000/internal/database"
	"github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/rbignon/speedfog-racing-sub000/internal/race"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"github.com/rbignon/speedfog-racing-sub000/internal/utils"
	ws "github.com/rbignon/speedfog-racing-sub000/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	hub     *ws.Hub
	service *race.Service
	monitor *race.Monitor
	httpSrv *http.Server
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	server := &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
	}

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动比赛同步服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}

	if err := s.ensureDefaultOrganizer(); err != nil {
		return err
	}

	// 组件装配：Hub实现比赛服务的广播接口
	s.hub = ws.NewHub()
	s.service = race.NewService(database.GetDB(), s.hub)

	wsHandler := ws.NewHandler(s.hub, s.service, &s.cfg.WebSocket)

	var err error
	s.monitor, err = race.NewMonitor(database.GetDB(), s.service, &s.cfg.Race, clockwork.NewRealClock())
	if err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "创建超时巡检器失败")
	}
	if err := s.monitor.Start(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动超时巡检器失败")
	}

	router := api.NewRouter(database.GetDB(), s.service, wsHandler, s.cfg, s.logger)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		s.logger.Info("HTTP服务启动", zap.String("address", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP服务异常退出", zap.Error(err))
		}
	}()

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.cfg = newCfg
		s.logger.Info("配置重新加载完成")
	})

	s.logger.Info("服务器启动成功", zap.String("http", addr))
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	return nil
}

// ensureDefaultOrganizer 首次启动时创建默认主办方账号
func (s *Server) ensureDefaultOrganizer() error {
	organizers := repository.NewOrganizerRepository(database.GetDB())
	ctx := context.Background()

	if _, err := organizers.FindByUsername(ctx, "admin"); err == nil {
		return nil
	}

	password, err := utils.GenerateRandomString(16)
	if err != nil {
		return err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	if err := organizers.Create(ctx, &models.Organizer{
		Username:     "admin",
		PasswordHash: hash,
		Role:         "admin",
	}); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "创建默认主办方失败")
	}

	// 初始密码只打印一次，登录后应立即修改
	fmt.Printf("已创建默认主办方账号 admin，初始密码: %s\n", password)
	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
		}
	}

	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			s.logger.Error("停止超时巡检器失败", zap.Error(err))
		}
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	logger.Cleanup()
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("比赛同步服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
