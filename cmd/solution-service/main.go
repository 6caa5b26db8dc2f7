package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/event"
	"judgeflow/internal/common/http/health"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/ratelimit"
	progressController "judgeflow/internal/progress/controller"
	progressRepo "judgeflow/internal/progress/repository"
	progressService "judgeflow/internal/progress/service"
	"judgeflow/internal/solution/controller"
	"judgeflow/internal/solution/reaper"
	"judgeflow/internal/solution/repository"
	"judgeflow/internal/solution/service"
	"judgeflow/internal/task"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/solution_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env failed: %v\n", err)
	}

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()
	if appCfg.Topics.Provision {
		if err := mqClient.EnsureTopics(context.Background(), appCfg.Topics.specs()...); err != nil {
			logger.Error(context.Background(), "provision topics failed", zap.Error(err))
			return
		}
	}

	catalog, err := task.NewClient(appCfg.Catalog, nil)
	if err != nil {
		logger.Error(context.Background(), "init task catalog failed", zap.Error(err))
		return
	}

	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	cachedRepo := repository.NewCachedSubmissionRepository(submissionRepo, redisCache, appCfg.Solution.CacheTTL)

	progressSvc, err := progressService.NewProgressService(progressService.Config{
		Repo:          progressRepo.NewConfidenceRepository(mysqlDB),
		Tasks:         catalog,
		WeakTopics:    appCfg.Scoring.WeakTopics,
		CandidatePool: appCfg.Scoring.CandidatePool,
		DBTimeout:     appCfg.Solution.Timeouts.DB,
	})
	if err != nil {
		logger.Error(context.Background(), "init progress service failed", zap.Error(err))
		return
	}

	solutionSvc, err := service.NewSolutionService(service.Config{
		Repo:            cachedRepo,
		Catalog:         catalog,
		Publisher:       event.NewPublisher(mqClient, appCfg.Topics.Request, appCfg.Topics.Result),
		Scorer:          progressSvc,
		MaxCodeBytes:    appCfg.Solution.MaxCodeBytes,
		ListLimit:       appCfg.Solution.ListLimit,
		PenalizeTimeout: appCfg.Scoring.PenalizeTimeout,
		Timeouts: service.TimeoutConfig{
			DB:      appCfg.Solution.Timeouts.DB,
			Catalog: appCfg.Solution.Timeouts.Catalog,
			MQ:      appCfg.Solution.Timeouts.MQ,
		},
	})
	if err != nil {
		logger.Error(context.Background(), "init solution service failed", zap.Error(err))
		return
	}

	// Results are applied through the PENDING and progress_applied guards,
	// so redeliveries need no marker.
	resultOpts := appCfg.Results.toSubscribeOptions()
	if err := mqClient.SubscribeWithOptions(context.Background(), appCfg.Topics.Result, solutionSvc.HandleResultMessage, &resultOpts); err != nil {
		logger.Error(context.Background(), "subscribe result topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	staleReaper := reaper.New(submissionRepo, solutionSvc, solutionSvc, appCfg.Reaper)
	go staleReaper.Run(shutdownCtx)

	var submitGuards []gin.HandlerFunc
	if appCfg.Solution.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(redisCache, appCfg.Solution.RateLimit.Window, appCfg.Solution.Timeouts.DB)
		submitGuards = append(submitGuards, commonmw.RateLimitMiddleware(limiter, "submit", appCfg.Solution.RateLimit.Submit))
	}

	httpServer := buildHTTPServer(appCfg.Server, solutionSvc, progressSvc, submitGuards, map[string]health.CheckFunc{
		"mysql": mysqlDB.Ping,
		"redis": redisCache.Ping,
		"kafka": mqClient.Ping,
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "solution http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	staleReaper.Stop()
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, solutions *service.SolutionService, progress *progressService.ProgressService, submitGuards []gin.HandlerFunc, checks map[string]health.CheckFunc) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLog())

	router.GET("/healthz", health.Handler(checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1", commonmw.RequireUser())
	controller.NewSolutionController(solutions).Register(api, submitGuards...)
	progressController.NewProgressController(progress).Register(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
