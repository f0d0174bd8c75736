package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/greenbharat/air-quality-service/internal/aggregate"
	"github.com/greenbharat/air-quality-service/internal/alertlog"
	"github.com/greenbharat/air-quality-service/internal/cache"
	"github.com/greenbharat/air-quality-service/internal/circuitbreaker"
	"github.com/greenbharat/air-quality-service/internal/config"
	httphandler "github.com/greenbharat/air-quality-service/internal/http"
	"github.com/greenbharat/air-quality-service/internal/ingest"
	"github.com/greenbharat/air-quality-service/internal/lifecycle"
	"github.com/greenbharat/air-quality-service/internal/observability"
	"github.com/greenbharat/air-quality-service/internal/ragclient"
	"github.com/greenbharat/air-quality-service/internal/service"
	"github.com/greenbharat/air-quality-service/internal/stream"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ragClient, err := ragclient.NewHTTPClientWithRetry(
		cfg.RAGURL,
		cfg.RAGTimeout,
		cfg.RAGRetryAttempts,
		cfg.RAGRetryBaseDelay,
		cfg.RAGRetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("qa collaborator client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "qa_collaborator",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("qa_collaborator", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("qa_collaborator", int(to))
			},
		})
		ragClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("qa_collaborator", 0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	engine := aggregate.NewEngine()
	alerts := alertlog.NewLog(cfg.AlertRetention)
	history := aggregate.NewHistory(cfg.HistoryCapacity)
	reader := stream.NewReader(cfg.SourcePath, logger)
	ingestor := ingest.New(reader, engine, alerts, history, cfg.PollInterval, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go ingestor.Run(rootCtx)
	logger.Info("ingestion loop started",
		zap.String("source", cfg.SourcePath),
		zap.Duration("poll_interval", cfg.PollInterval))

	queries := service.NewQueryService(
		ingestor,
		engine,
		alerts,
		history,
		cacheSvc,
		cfg.CacheTTL,
		ragClient,
		cfg.TrendsDefaultLimit,
		cfg.CoalesceTimeout,
	)

	healthConfig := &httphandler.HealthConfig{
		IngestWindow: cfg.IngestWindow,
		StartTime:    time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(queries, ingestor, healthConfig, logger, cfg.TrendsMaxLimit)

	if cfg.WarmViews {
		warmer := service.NewViewWarmer(queries, logger)
		warmCtx, warmCancel := context.WithTimeout(rootCtx, 30*time.Second)
		if err := warmer.Warm(warmCtx); err != nil {
			logger.Warn("view warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(rootCtx, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic view warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	apiRouter.HandleFunc("/aqi", handler.GetAQI).Methods("GET")
	apiRouter.HandleFunc("/alerts", handler.GetAlerts).Methods("GET")
	apiRouter.HandleFunc("/trends", handler.GetTrends).Methods("GET")
	apiRouter.HandleFunc("/stats", handler.GetStats).Methods("GET")
	apiRouter.HandleFunc("/summary", handler.GetSummary).Methods("GET")
	apiRouter.HandleFunc("/ask", handler.PostAsk).Methods("POST")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete",
		zap.Int64("readings_ingested", ingestor.Ingested()))
}
