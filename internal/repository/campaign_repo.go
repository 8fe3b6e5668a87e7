package repository

import (
	"context"
	"time"

	"github.com/libpass-attack/libpass-attack-go/internal/domain"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	FindByID(ctx context.Context, id string) (*domain.Campaign, error)
	ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Campaign, int64, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error)
	Delete(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) error
	MarkCancelled(ctx context.Context, id string) error
	// 完成与失败都是原子更新，避免 worker 和 API 并发写覆盖
	MarkCompleted(ctx context.Context, id string, outcome *engine.AttackOutcome) error
	MarkFailed(ctx context.Context, id string, errorKind string, errorMessage string) error
	// 获取各状态战役数量统计（数据库聚合查询）
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	// 检查是否存在最近创建的同名 APK 战役（防止文件监控重复创建）
	HasRecentCampaignForAPK(ctx context.Context, apkName string, withinSeconds int) (bool, error)
}

type campaignRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewCampaignRepository(db *gorm.DB, logger *logrus.Logger) CampaignRepository {
	return &campaignRepo{
		db:     db,
		logger: logger,
	}
}

func (r *campaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *campaignRepo) FindByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := r.db.WithContext(ctx).
		Preload("StrategyOutcomes").
		First(&c, "id = ?", id).Error

	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepo) ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Campaign, int64, error) {
	var campaigns []*domain.Campaign
	var total int64

	if err := r.db.WithContext(ctx).Model(&domain.Campaign{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize

	err := r.db.WithContext(ctx).
		Preload("StrategyOutcomes").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&campaigns).Error

	return campaigns, total, err
}

func (r *campaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	var campaigns []*domain.Campaign

	err := r.db.WithContext(ctx).
		Preload("StrategyOutcomes").
		Where("status = ?", status).
		Order("created_at ASC"). // 先进先出
		Find(&campaigns).Error

	return campaigns, err
}

func (r *campaignRepo) Delete(ctx context.Context, id string) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	// 先删子表再删主表，处理外键约束
	if err := tx.Exec("DELETE FROM campaign_strategy_outcomes WHERE campaign_id = ?", id).Error; err != nil {
		tx.Rollback()
		return err
	}

	result := tx.Exec("DELETE FROM attack_campaigns WHERE id = ?", id)
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	r.logger.WithFields(logrus.Fields{"campaign_id": id, "deleted": result.RowsAffected}).Info("Deleted campaign")

	return tx.Commit().Error
}

func (r *campaignRepo) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.CampaignStatusRunning,
			"started_at": &now,
		}).Error
}

func (r *campaignRepo) MarkCancelled(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ? AND status IN ?", id,
			[]domain.CampaignStatus{domain.CampaignStatusQueued, domain.CampaignStatusRunning}).
		Updates(map[string]interface{}{
			"status":       domain.CampaignStatusCancelled,
			"completed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkCompleted 写终态和策略明细
// 明细表单独插入，主表只更新统计字段
func (r *campaignRepo) MarkCompleted(ctx context.Context, id string, outcome *engine.AttackOutcome) error {
	now := time.Now().UTC()
	evaded := outcome.AutoResult != nil && outcome.AutoResult.AttackSuccess

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	err := tx.Model(&domain.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               domain.CampaignStatusCompleted,
			"overall_success_rate": outcome.OverallSuccessRate,
			"attack_evaded":        evaded,
			"output_dir":           outcome.OutputDir,
			"completed_at":         &now,
		}).Error
	if err != nil {
		tx.Rollback()
		return err
	}

	for _, s := range outcome.Results {
		record := &domain.CampaignStrategyOutcome{
			CampaignID:   id,
			StrategyName: s.StrategyName,
			SuccessRate:  s.SuccessRate,
			CreatedAt:    now,
		}
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"campaign_id":  id,
		"overall_rate": outcome.OverallSuccessRate,
		"evaded":       evaded,
	}).Info("Campaign marked as completed")
	return nil
}

func (r *campaignRepo) MarkFailed(ctx context.Context, id string, errorKind string, errorMessage string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.CampaignStatusFailed,
			"error_kind":    errorKind,
			"error_message": errorMessage,
			"completed_at":  &now,
		})

	if result.Error != nil {
		r.logger.WithError(result.Error).WithFields(logrus.Fields{
			"campaign_id": id,
			"error_kind":  errorKind,
		}).Error("Failed to update campaign failure")
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"campaign_id": id,
		"error_kind":  errorKind,
		"severity":    domain.SeverityForErrorKind(errorKind),
	}).Warn("Campaign marked as failed")
	return nil
}

// GetStatusCounts 获取各状态战役数量统计
func (r *campaignRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type StatusCount struct {
		Status string
		Count  int64
	}

	var results []StatusCount
	err := r.db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error

	if err != nil {
		r.logger.WithError(err).Error("Failed to get status counts")
		return nil, 0, err
	}

	statusCounts := map[string]int64{
		"queued":    0,
		"running":   0,
		"completed": 0,
		"failed":    0,
		"cancelled": 0,
	}

	var total int64
	for _, sc := range results {
		statusCounts[sc.Status] = sc.Count
		total += sc.Count
	}

	return statusCounts, total, nil
}

// HasRecentCampaignForAPK 检查是否存在最近创建的同名 APK 战役
// 大文件复制会触发多次文件事件，用时间窗口去重
func (r *campaignRepo) HasRecentCampaignForAPK(ctx context.Context, apkName string, withinSeconds int) (bool, error) {
	var count int64
	cutoffTime := time.Now().UTC().Add(-time.Duration(withinSeconds) * time.Second)

	err := r.db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("apk_name = ? AND created_at > ?", apkName, cutoffTime).
		Count(&count).Error

	if err != nil {
		r.logger.WithError(err).WithField("apk_name", apkName).Error("Failed to check recent campaign for APK")
		return false, err
	}

	if count > 0 {
		r.logger.WithFields(logrus.Fields{
			"apk_name":       apkName,
			"recent_count":   count,
			"within_seconds": withinSeconds,
		}).Warn("Found recent campaign for same APK, skipping duplicate creation")
	}

	return count > 0, nil
}
