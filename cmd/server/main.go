package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/libpass-attack/libpass-attack-go/internal/api"
	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/domain"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/libpass-attack/libpass-attack-go/internal/middleware"
	"github.com/libpass-attack/libpass-attack-go/internal/queue"
	"github.com/libpass-attack/libpass-attack-go/internal/repository"
	"github.com/libpass-attack/libpass-attack-go/internal/watcher"
	"github.com/libpass-attack/libpass-attack-go/internal/worker"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to config file")
	flag.Parse()

	fmt.Printf("LibPass Attack Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n\n", BuildTime)

	bootstrapLogger := logrus.New()
	cfg := config.LoadOrDefault(*configPath, bootstrapLogger)

	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting LibPass Attack Service %s", Version)

	// 数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected")

	// 清理因服务重启而中断的战役
	if err := cleanupStuckCampaigns(db, logger); err != nil {
		logger.WithError(err).Warn("Failed to cleanup stuck campaigns")
	}

	// RabbitMQ：prefetch 与 worker 并发一致
	workerCount := cfg.Worker.Concurrency
	if workerCount <= 0 {
		workerCount = 1
	}
	mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, workerCount, logger)
	if err != nil {
		logger.Fatalf("Failed to init RabbitMQ: %v", err)
	}
	defer mq.Close()

	// Prometheus 指标
	promMetrics := middleware.NewPrometheusMetrics(logger, "libpass_attack")

	// 依赖装配
	repo := repository.NewCampaignRepository(db, logger)
	producer := queue.NewProducer(mq, logger)
	invoker := engine.NewInvoker(cfg, engine.NewRunner(), logger)
	runner := worker.NewCampaignRunner(cfg, repo, invoker, promMetrics, logger)

	// 服务重启后以数据库为唯一数据源重建队列
	if err := republishQueuedCampaigns(repo, mq, producer, logger); err != nil {
		logger.WithError(err).Warn("Failed to republish queued campaigns")
	}

	// 消费者
	consumer := queue.NewConsumer(mq, runner.Handle, workerCount, logger)
	if err := consumer.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start consumer: %v", err)
	}
	defer consumer.Stop()
	logger.Infof("Campaign consumer started with %d workers", workerCount)

	// 指标更新协程
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			sqlDB, err := db.DB()
			if err == nil {
				dbStats := sqlDB.Stats()
				promMetrics.UpdateDBStats(dbStats.OpenConnections, dbStats.Idle, dbStats.InUse)
			}

			if depth, _, err := mq.GetQueueStats(); err == nil {
				promMetrics.UpdateQueueDepth(depth)
			}
			promMetrics.UpdateActiveWorkers(consumer.GetActiveWorkers())
		}
	}()

	// APK 投放目录监控
	if cfg.Intake.Enabled {
		if cfg.Intake.TPLName == "" || cfg.Intake.TPLPath == "" {
			logger.Fatal("Intake enabled but tpl_path/tpl_name not configured")
		}

		fileWatcher, err := watcher.NewFileWatcher(cfg.APKDir, "*.apk",
			createIntakeHandler(cfg, repo, producer, promMetrics, logger), logger)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		defer fileWatcher.Stop()

		if err := fileWatcher.Start(context.Background()); err != nil {
			logger.Fatalf("Failed to start file watcher: %v", err)
		}
		logger.Infof("File watcher started for directory: %s", cfg.APKDir)
	} else {
		logger.Info("APK intake watcher disabled")
	}

	// HTTP Server
	router := api.SetupRouter(cfg, logger, repo, producer, promMetrics)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("Server stopped")
}

// createIntakeHandler 投放目录新 APK 的处理：建战役并入队
func createIntakeHandler(
	cfg *config.Config,
	repo repository.CampaignRepository,
	producer *queue.Producer,
	metrics *middleware.PrometheusMetrics,
	logger *logrus.Logger,
) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		fileName := filepath.Base(filePath)

		// 大文件复制会触发多次事件，按时间窗口去重
		recent, err := repo.HasRecentCampaignForAPK(ctx, fileName, 60)
		if err != nil {
			return fmt.Errorf("failed to check recent campaign: %w", err)
		}
		if recent {
			return nil
		}

		mode := domain.CampaignMode(cfg.Intake.Mode)
		campaign := &domain.Campaign{
			ID:           uuid.New().String(),
			APKName:      fileName,
			APKPath:      filePath,
			TPLName:      cfg.Intake.TPLName,
			TPLPath:      cfg.Intake.TPLPath,
			DetectorType: cfg.Detector.Type,
			Mode:         mode,
			Status:       domain.CampaignStatusQueued,
		}
		if err := repo.Create(ctx, campaign); err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		metrics.RecordCampaignCreated()

		msg := &queue.CampaignMessage{
			CampaignID:   campaign.ID,
			APKName:      campaign.APKName,
			APKPath:      campaign.APKPath,
			TPLName:      campaign.TPLName,
			TPLPath:      campaign.TPLPath,
			Mode:         string(campaign.Mode),
			DetectorType: campaign.DetectorType,
		}
		if err := producer.PublishCampaign(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish campaign: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"apk_name":    fileName,
		}).Info("Campaign created from intake directory")
		return nil
	}
}

// cleanupStuckCampaigns 将上次运行中断的 running 战役标记为失败
// queued 状态的战役会被重新投递，不需要清理
func cleanupStuckCampaigns(db *gorm.DB, logger *logrus.Logger) error {
	now := time.Now().UTC()
	result := db.Table("attack_campaigns").
		Where("status = ?", "running").
		Updates(map[string]interface{}{
			"status":        "failed",
			"error_kind":    "interrupted",
			"error_message": "service restarted while campaign was running",
			"completed_at":  now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update stuck campaigns: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		logger.WithField("count", result.RowsAffected).Warn("Marked stuck campaigns as failed due to service restart")
	}
	return nil
}

// republishQueuedCampaigns 服务重启后重建队列
// 先清空残留消息，再按创建顺序重新投递数据库中 queued 状态的战役
func republishQueuedCampaigns(
	repo repository.CampaignRepository,
	mq *queue.RabbitMQ,
	producer *queue.Producer,
	logger *logrus.Logger,
) error {
	purged, err := mq.PurgeQueue()
	if err != nil {
		logger.WithError(err).Warn("Failed to purge queue, continuing with republish...")
	} else if purged > 0 {
		logger.WithField("purged_count", purged).Info("Cleared stale messages from queue")
	}

	queued, err := repo.ListByStatus(context.Background(), domain.CampaignStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to query queued campaigns: %w", err)
	}
	if len(queued) == 0 {
		logger.Info("No queued campaigns found, queue is empty and clean")
		return nil
	}

	successCount := 0
	for _, c := range queued {
		msg := &queue.CampaignMessage{
			CampaignID:   c.ID,
			APKName:      c.APKName,
			APKPath:      c.APKPath,
			TPLName:      c.TPLName,
			TPLPath:      c.TPLPath,
			Mode:         string(c.Mode),
			DetectorType: c.DetectorType,
		}
		if err := producer.PublishCampaign(context.Background(), msg); err != nil {
			logger.WithError(err).WithField("campaign_id", c.ID).Error("Failed to republish campaign")
			continue
		}
		successCount++
	}

	logger.WithFields(logrus.Fields{
		"total":   len(queued),
		"success": successCount,
	}).Info("Queued campaigns republished to RabbitMQ")
	return nil
}
