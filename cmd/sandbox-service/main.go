package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/event"
	"judgeflow/internal/common/http/health"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/gateway"
	"judgeflow/internal/judge/worker"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/sandbox_service.yaml"

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

	judgeClient, err := gateway.NewClient(appCfg.Judge, nil)
	if err != nil {
		logger.Error(context.Background(), "init judge gateway failed", zap.Error(err))
		return
	}

	execWorker, err := worker.New(worker.Config{
		Judge:          judgeClient,
		Publisher:      event.NewPublisher(mqClient, appCfg.Topics.Request, appCfg.Topics.Result),
		PoolSize:       appCfg.Worker.PoolSize,
		Sampling:       appCfg.Worker.Sampling,
		ExecTimeout:    appCfg.Worker.ExecTimeout,
		PublishTimeout: appCfg.Worker.PublishTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init worker failed", zap.Error(err))
		return
	}

	requestOpts := appCfg.Requests.toSubscribeOptions()
	requestHandler := mq.Deduplicate(redisCache, appCfg.Dedup, execWorker.HandleMessage)
	if err := mqClient.SubscribeWithOptions(context.Background(), appCfg.Topics.Request, requestHandler, &requestOpts); err != nil {
		logger.Error(context.Background(), "subscribe request topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", health.Handler(map[string]health.CheckFunc{
		"redis": redisCache.Ping,
		"kafka": mqClient.Ping,
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	opsServer := &http.Server{Addr: appCfg.Server.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "sandbox ops server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- opsServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "ops server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	_ = mqClient.Stop()
	execWorker.Wait()
	if err := opsServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "ops server shutdown failed", zap.Error(err))
	}
}
