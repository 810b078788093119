package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	conductor "github.com/BaSui01/conductor"
	"github.com/BaSui01/conductor/api/handlers"
	"github.com/BaSui01/conductor/config"
	"github.com/BaSui01/conductor/internal/database"
	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/internal/server"
	"github.com/BaSui01/conductor/internal/telemetry"
	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Conductor 的主服务进程：引擎 + HTTP API + Metrics
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 核心引擎
	engine *conductor.Engine

	// 基础设施
	pool        *database.PoolManager
	redisClient *redis.Client
	otel        *telemetry.Providers
	collector   *metrics.Collector

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. OpenTelemetry
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	// 2. 指标收集器
	if s.cfg.Metrics.Enabled {
		s.collector = metrics.NewCollector(s.cfg.Metrics.Namespace, s.logger)
	}

	// 3. 初始化引擎（存储 + 通知 + 全部子系统）
	if err := s.initEngine(); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if s.cfg.Metrics.Enabled {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Metrics.Port),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initEngine 选择存储后端并装配编排引擎。
// 数据库不可用时回退到内存存储，服务仍可启动（状态不持久）。
func (s *Server) initEngine() error {
	var st store.Store

	pm, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		s.logger.Warn("database not available, falling back to in-memory store", zap.Error(err))
		st = store.NewMemoryStore()
	} else {
		s.pool = pm
		if s.collector != nil {
			dbName := s.cfg.Database.Name
			s.pool.SetStatsReporter(func(open, idle int) {
				s.collector.SetDBConnections(dbName, open, idle)
			})
			if err := s.pool.SetQueryReporter(func(operation string, elapsed time.Duration) {
				s.collector.RecordDBQuery(dbName, operation, elapsed)
			}); err != nil {
				s.logger.Warn("register query metrics failed", zap.Error(err))
			}
		}
		st = store.NewGormStore(pm.DB())
	}

	// 通知发布：Redis 可用时推送到 pub/sub 频道，否则记录日志
	var notifier notify.Notifier
	if s.cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		notifier = notify.NewRedis(s.redisClient, "", s.logger)
	} else {
		notifier = notify.NewLogger(s.logger, 50)
	}

	engine, err := conductor.New(s.cfg, st,
		conductor.WithLogger(s.logger),
		conductor.WithNotifier(notifier),
		conductor.WithMetrics(s.collector),
	)
	if err != nil {
		return err
	}
	s.engine = engine

	s.logger.Info("Engine initialized",
		zap.Int("agents", len(s.cfg.Agents)),
		zap.Int("definitions", len(s.cfg.Definitions)),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.CheckFunc{
		CheckName: "store",
		Fn:        s.engine.Store.Ping,
	})
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/readyz", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	handlers.NewWorkflowHandler(s.engine.Workflows, s.engine.Checkpoints, s.logger).RegisterRoutes(mux)
	handlers.NewApprovalHandler(s.engine.Gate, s.engine.Workflows, s.logger).RegisterRoutes(mux)

	// ========================================
	// 构建中间件链
	// ========================================
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	defaults := server.DefaultConfig()
	serverConfig.ReadTimeout = defaults.ReadTimeout
	serverConfig.WriteTimeout = defaults.WriteTimeout
	serverConfig.IdleTimeout = defaults.IdleTimeout
	serverConfig.MaxHeaderBytes = defaults.MaxHeaderBytes

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	defaults := server.DefaultConfig()
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Metrics.Port),
		ReadTimeout:     defaults.ReadTimeout,
		WriteTimeout:    defaults.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Metrics.Port))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭引擎与存储
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Error("Engine shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis client shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭遥测
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
