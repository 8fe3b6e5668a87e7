package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/domain"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/libpass-attack/libpass-attack-go/internal/middleware"
	"github.com/libpass-attack/libpass-attack-go/internal/queue"
	"github.com/libpass-attack/libpass-attack-go/internal/repository"
	"github.com/sirupsen/logrus"
)

// CampaignRunner 战役执行器
// 消费队列消息，驱动引擎执行一次攻击并把终态写回数据库。
// 引擎失败是正常业务结果，记录后返回 nil 让消息确认掉；
// 只有基础设施错误（查库失败等）才向消费者返回错误
type CampaignRunner struct {
	cfg     *config.Config
	repo    repository.CampaignRepository
	invoker *engine.Invoker
	metrics *middleware.PrometheusMetrics
	logger  *logrus.Logger
}

func NewCampaignRunner(
	cfg *config.Config,
	repo repository.CampaignRepository,
	invoker *engine.Invoker,
	metrics *middleware.PrometheusMetrics,
	logger *logrus.Logger,
) *CampaignRunner {
	return &CampaignRunner{
		cfg:     cfg,
		repo:    repo,
		invoker: invoker,
		metrics: metrics,
		logger:  logger,
	}
}

// Handle 实现 queue.CampaignHandler
func (r *CampaignRunner) Handle(ctx context.Context, msg *queue.CampaignMessage) error {
	campaign, err := r.repo.FindByID(ctx, msg.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign %s: %w", msg.CampaignID, err)
	}

	// 排队期间被取消或已被处理过的消息直接跳过
	if campaign.Status != domain.CampaignStatusQueued {
		r.logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"status":      campaign.Status,
		}).Warn("Campaign not in queued state, skipping")
		return nil
	}

	if err := r.repo.MarkRunning(ctx, campaign.ID); err != nil {
		return fmt.Errorf("failed to mark campaign running: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordCampaignStarted()
	}

	start := time.Now()
	outcome := r.invoke(ctx, campaign)
	duration := time.Since(start)

	if outcome.Success {
		if err := r.repo.MarkCompleted(ctx, campaign.ID, outcome); err != nil {
			return fmt.Errorf("failed to mark campaign completed: %w", err)
		}
		if r.metrics != nil {
			r.metrics.RecordCampaignCompleted(string(campaign.Mode), outcome.OverallSuccessRate, duration)
		}
		return nil
	}

	if err := r.repo.MarkFailed(ctx, campaign.ID, string(outcome.ErrorKind), outcome.Error); err != nil {
		return fmt.Errorf("failed to mark campaign failed: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordCampaignFailed(string(campaign.Mode), string(outcome.ErrorKind), duration)
	}
	return nil
}

// invoke 按战役模式选择引擎入口点
func (r *CampaignRunner) invoke(ctx context.Context, campaign *domain.Campaign) *engine.AttackOutcome {
	outputDir := campaign.OutputDir
	if outputDir == "" {
		outputDir = campaignOutputDir(r.cfg.Soot.OutputDir, campaign.ID)
	}

	if campaign.Mode == domain.CampaignModeAutomated {
		return r.invoker.InvokeAutomated(ctx, &engine.AutomatedRequest{
			APKPath:      campaign.APKPath,
			TPLPath:      campaign.TPLPath,
			TPLName:      campaign.TPLName,
			OutputDir:    outputDir,
			DetectorType: campaign.DetectorType,
		})
	}

	return r.invoker.InvokeBasic(ctx, &engine.BasicRequest{
		APKPath:   campaign.APKPath,
		TPLPath:   campaign.TPLPath,
		TPLName:   campaign.TPLName,
		OutputDir: outputDir,
	})
}

// campaignOutputDir 每个战役独占一个以 ID 命名的输出子目录
func campaignOutputDir(root, campaignID string) string {
	return filepath.Join(root, campaignID)
}
