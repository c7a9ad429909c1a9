package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/engine"
	"github.com/BaSui01/agentfleet/api/handlers"
	"github.com/BaSui01/agentfleet/config"
	"github.com/BaSui01/agentfleet/internal/cache"
	"github.com/BaSui01/agentfleet/internal/database"
	"github.com/BaSui01/agentfleet/internal/metrics"
	"github.com/BaSui01/agentfleet/internal/server"
	"github.com/BaSui01/agentfleet/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AgentFleet 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 外部依赖，按存储后端按需创建
	redis *cache.Manager
	db    *database.PoolManager
	mongo *mongo.Client

	engine    *engine.Engine
	telemetry *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	taskHandler   *handlers.TaskHandler
	agentHandler  *handlers.AgentHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
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

// Start 启动所有服务，任一步失败时释放已创建的资源
func (s *Server) Start(ctx context.Context) error {
	if s.metricsCollector == nil {
		s.metricsCollector = metrics.NewCollector("agentfleet", s.logger)
	}

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	if err := s.initStores(ctx); err != nil {
		s.Shutdown(ctx)
		return fmt.Errorf("failed to init stores: %w", err)
	}

	if err := s.initEngine(ctx); err != nil {
		s.Shutdown(ctx)
		return fmt.Errorf("failed to init engine: %w", err)
	}

	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		s.Shutdown(ctx)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		s.Shutdown(ctx)
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
		zap.Bool("operator_api", s.cfg.Server.JWTSecret != ""),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStores 按存储后端创建 Redis 与数据库连接
func (s *Server) initStores(ctx context.Context) error {
	st := s.cfg.Storage
	if st.StatsBackend == "redis" || st.ResultsBackend == "redis" {
		m, err := cache.NewManager(ctx, cache.ConfigFrom(s.cfg.Redis), s.logger)
		if err != nil {
			return err
		}
		s.redis = m
	}
	if st.StatsBackend == "database" {
		pm, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		s.db = pm
	}
	if st.ResultsBackend == "mongo" {
		client, err := connectMongo(ctx, s.cfg.Mongo)
		if err != nil {
			return err
		}
		s.mongo = client
		s.logger.Info("mongo connected",
			zap.String("database", s.cfg.Mongo.Database),
			zap.String("collection", s.cfg.Mongo.Collection))
	}
	return nil
}

// connectMongo 建立连接并探活，失败时断开
func connectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = config.DefaultMongoConfig().ConnectTimeout
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// initEngine 创建并启动调度引擎
func (s *Server) initEngine(ctx context.Context) error {
	opts := []engine.Option{
		engine.WithMetrics(s.metricsCollector),
		engine.WithMeter(otel.GetMeterProvider().Meter(telemetry.MeterName)),
	}
	if s.redis != nil {
		opts = append(opts, engine.WithRedis(s.redis.Client()))
	}
	if s.db != nil {
		opts = append(opts, engine.WithDatabase(s.db.DB()))
	}
	if s.mongo != nil {
		opts = append(opts, engine.WithMongo(s.mongo.Database(s.cfg.Mongo.Database)))
	}

	eng, err := engine.New(s.cfg, s.logger, opts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	s.engine = eng
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.engine, s.logger)
	if s.redis != nil {
		s.healthHandler.AddDependency("redis", s.redis.Ping)
	}
	if s.db != nil {
		s.healthHandler.AddDependency("database", s.db.Ping)
	}
	if s.mongo != nil {
		s.healthHandler.AddDependency("mongo", func(ctx context.Context) error {
			return s.mongo.Ping(ctx, nil)
		})
	}

	s.taskHandler = handlers.NewTaskHandler(s.engine, s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.engine, s.logger)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册 API 路由，运维接口单独经过 JWT 认证
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 任务
	mux.HandleFunc("POST /v1/tasks", s.taskHandler.HandleSubmit)
	mux.HandleFunc("GET /v1/tasks/{id}", s.taskHandler.HandleResult)
	mux.HandleFunc("POST /v1/tasks/{id}/result", s.taskHandler.HandleComplete)
	mux.HandleFunc("GET /v1/decisions", s.taskHandler.HandleDecisions)

	// Agent
	mux.HandleFunc("GET /v1/status", s.agentHandler.HandleStatus)
	mux.HandleFunc("GET /v1/capabilities", s.agentHandler.HandleCapabilities)
	mux.HandleFunc("GET /v1/agents", s.agentHandler.HandleListAgents)
	mux.HandleFunc("POST /v1/agents", s.agentHandler.HandleRegister)
	mux.HandleFunc("GET /v1/agents/heartbeats/stream", s.agentHandler.HandleHeartbeatStream)
	mux.HandleFunc("GET /v1/agents/{id}", s.agentHandler.HandleGetAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", s.agentHandler.HandleUnregister)
	mux.HandleFunc("POST /v1/agents/{id}/heartbeat", s.agentHandler.HandleHeartbeat)

	// 运维接口
	auth := JWTAuth(s.cfg.Server.JWTSecret, s.cfg.Server.JWTIssuer, s.logger)
	mux.Handle("POST /v1/agents/{id}/reset", auth(http.HandlerFunc(s.agentHandler.HandleReset)))
	mux.Handle("PUT /v1/agents/{id}/recovery", auth(http.HandlerFunc(s.agentHandler.HandleSetAgentRecovery)))
	mux.HandleFunc("GET /v1/recovery", s.agentHandler.HandleRecovery)
	mux.Handle("PUT /v1/recovery", auth(http.HandlerFunc(s.agentHandler.HandleRecovery)))
	mux.HandleFunc("GET /v1/autostart", s.agentHandler.HandleAutoStart)
	mux.Handle("PUT /v1/autostart", auth(http.HandlerFunc(s.agentHandler.HandleAutoStart)))
	mux.Handle("POST /v1/autostart/run", auth(http.HandlerFunc(s.agentHandler.HandleRunAutoStart)))

	return mux
}

// handler 构建完整中间件链
func (s *Server) handler() http.Handler {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	serverConfig := server.FromServerConfig(s.cfg.Server, s.cfg.Server.HTTPPort, true)
	s.httpManager = server.NewManager("api", s.handler(), serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.FromServerConfig(s.cfg.Server, s.cfg.Server.MetricsPort, false)
	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到退出信号或任一服务器异常退出
func (s *Server) WaitForShutdown(ctx context.Context) error {
	managers := make([]*server.Manager, 0, 2)
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m != nil {
			managers = append(managers, m)
		}
	}
	err := server.WaitForShutdown(ctx, s.logger, managers...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭：先停止接收请求，再排空引擎，最后关闭存储连接
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.engine != nil {
		if err := s.engine.Stop(ctx); err != nil {
			s.logger.Error("Engine shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.mongo != nil {
		if err := s.mongo.Disconnect(ctx); err != nil {
			s.logger.Error("Mongo disconnect error", zap.Error(err))
		}
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
