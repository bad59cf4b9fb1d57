package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pinclab/derived-image-qa/internal/handler"
	"github.com/pinclab/derived-image-qa/internal/repository"
	"github.com/pinclab/derived-image-qa/internal/service"
	"github.com/pinclab/derived-image-qa/pkg/config"
	"github.com/pinclab/derived-image-qa/pkg/database"
	"github.com/pinclab/derived-image-qa/pkg/jobs"
	"github.com/pinclab/derived-image-qa/pkg/logger"
	reqidmiddleware "github.com/pinclab/derived-image-qa/pkg/middleware/requestid"
	"github.com/pinclab/derived-image-qa/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueRepo := repository.NewQueueRepository(db, cfg.Database.Schema)
	reviewRepo := repository.NewReviewRepository(db, cfg.Database.Schema)
	exportRepo := repository.NewExportJobRepository(db)

	metrics := service.NewMetricsService()
	admin := service.NewQueueAdminService(queueRepo, logr, metrics)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("export storage init failed", "error", err)
	}
	signer := storage.NewSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	var worker *service.ExportWorker
	exportQueue := jobs.NewQueue("exports", func(ctx context.Context, job jobs.Job) error {
		return worker.Handle(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exports := service.NewExportService(exportRepo, reviewRepo, store, exportQueue, signer, logr)
	worker = service.NewExportWorker(exportRepo, exports, cfg.Exports.WorkerRetries, logr)

	exportQueue.Start(ctx)
	defer exportQueue.Stop()
	exports.RecoverPendingJobs(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))

	r.GET("/health", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	queueHandler := handler.NewQueueHandler(admin)
	exportHandler := handler.NewExportHandler(exports)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/queue/stats", queueHandler.Stats)
		v1.GET("/queue/records", queueHandler.List)
		v1.POST("/queue/records/:id/requeue", queueHandler.Requeue)

		v1.POST("/exports", exportHandler.Create)
		v1.GET("/exports/:id", exportHandler.Status)
		v1.GET("/exports/download/:token", exportHandler.Download)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("admin server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("admin server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown", "error", err)
	}
}
