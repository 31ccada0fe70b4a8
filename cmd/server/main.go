// ZhiBan 排班引擎服务
// 主程序入口

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhiban/zhiban/internal/audit"
	"github.com/zhiban/zhiban/internal/config"
	"github.com/zhiban/zhiban/internal/database"
	"github.com/zhiban/zhiban/internal/handler"
	"github.com/zhiban/zhiban/internal/metrics"
	"github.com/zhiban/zhiban/internal/middleware"
	"github.com/zhiban/zhiban/internal/repository"
	"github.com/zhiban/zhiban/internal/tenant"
	"github.com/zhiban/zhiban/pkg/logger"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/engine"
	"github.com/zhiban/zhiban/pkg/roster/lifecycle"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 本地开发环境变量
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	format := "json"
	if cfg.IsDevelopment() {
		format = "console"
	}
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: format,
	})

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("env", cfg.App.Env).
		Msg("ZhiBan 排班引擎启动")

	// 数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Error().Err(err).Msg("数据库初始化失败")
		os.Exit(1)
	}
	defer db.Close()

	// 仓储与领域服务
	store := repository.NewStore(db)
	auditRecorder := audit.NewDBRecorder(db)
	runner := engine.NewRunner(store, &engine.Config{
		DefaultAlgorithm:    cfg.Engine.DefaultAlgorithm,
		FairnessDecay:       cfg.Engine.FairnessDecay,
		UndesirableClass:    parseShiftClass(cfg.Engine.UndesirableClass),
		SolverTimeBudget:    cfg.Engine.SolverTimeBudget,
		SolverMaxIterations: cfg.Engine.SolverMaxIterations,
		MinRestHours:        cfg.Engine.MinRestHours,
	}).WithAudit(auditRecorder)
	manager := lifecycle.NewManager(store, runner).WithAudit(auditRecorder)

	// 租户
	tenants := tenant.NewManager()
	if cfg.IsDevelopment() {
		t := tenant.CreateDefaultTenant()
		_ = tenants.Register(t)
		logger.Info().Str("tenant_id", t.ID.String()).Msg("已注册默认开发租户")
	}

	// 处理器
	rosterHandler := handler.NewRosterHandler(runner, store.ScheduleRepository)
	scheduleHandler := handler.NewScheduleHandler(manager)

	mux := http.NewServeMux()

	// 系统端点
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Health(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","database":"down"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"zhiban"}`))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":"%s","build_time":"%s","git_commit":"%s"}`, Version, BuildTime, GitCommit)
	})

	// 排班运行 API
	mux.HandleFunc("POST /api/v1/roster/runs", rosterHandler.Run)
	mux.HandleFunc("GET /api/v1/schedules", rosterHandler.List)
	mux.HandleFunc("GET /api/v1/schedules/{id}", rosterHandler.Get)

	// 排班生命周期 API
	mux.HandleFunc("POST /api/v1/schedules/{id}/approve", scheduleHandler.Approve)
	mux.HandleFunc("POST /api/v1/schedules/{id}/reject", scheduleHandler.Reject)
	mux.HandleFunc("POST /api/v1/schedules/{id}/activate", scheduleHandler.Activate)
	mux.HandleFunc("POST /api/v1/schedules/{id}/archive", scheduleHandler.Archive)
	mux.HandleFunc("POST /api/v1/schedules/{id}/assignments", scheduleHandler.Edit)
	mux.HandleFunc("DELETE /api/v1/schedules/{id}", scheduleHandler.Delete)

	// Prometheus 指标端点
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
	}

	// 中间件链：recovery -> requestID -> cors -> tenant -> rateLimit -> logging
	skipPaths := []string{"/health", "/version", cfg.Metrics.Path}
	limiter := middleware.NewRateLimiter(100)
	var root http.Handler = mux
	root = middleware.Logging(root)
	root = middleware.RateLimit(limiter)(root)
	root = middleware.Tenant(&middleware.TenantConfig{Manager: tenants, SkipPaths: skipPaths})(root)
	root = middleware.CORS(root)
	root = middleware.SecurityHeaders(root)
	root = middleware.RequestID(root)
	root = middleware.Recovery(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 数据库连接池指标
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.SetDBConnections(stats.OpenConnections, stats.Idle, stats.InUse)
		}
	}()

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Str("url", fmt.Sprintf("http://localhost:%d", cfg.App.Port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		os.Exit(1)
	}

	logger.Info().Msg("服务器已关闭")
}

// parseShiftClass 解析班次分类配置
func parseShiftClass(s string) model.ShiftClass {
	switch model.ShiftClass(s) {
	case model.ShiftDay, model.ShiftEvening, model.ShiftNight:
		return model.ShiftClass(s)
	default:
		return model.ShiftNight
	}
}
