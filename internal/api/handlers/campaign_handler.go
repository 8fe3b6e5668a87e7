package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/libpass-attack/libpass-attack-go/internal/domain"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/libpass-attack/libpass-attack-go/internal/evaluator"
	"github.com/libpass-attack/libpass-attack-go/internal/queue"
	"github.com/libpass-attack/libpass-attack-go/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CampaignPublisher 战役消息发布能力
type CampaignPublisher interface {
	PublishCampaign(ctx context.Context, msg *queue.CampaignMessage) error
}

// CampaignHandler 战役处理器
type CampaignHandler struct {
	repo      repository.CampaignRepository
	publisher CampaignPublisher
	evaluator *evaluator.Evaluator
	logger    *logrus.Logger
}

func NewCampaignHandler(repo repository.CampaignRepository, publisher CampaignPublisher, logger *logrus.Logger) *CampaignHandler {
	return &CampaignHandler{
		repo:      repo,
		publisher: publisher,
		evaluator: evaluator.NewEvaluator(logger),
		logger:    logger,
	}
}

// CreateCampaignRequest 创建战役请求体
type CreateCampaignRequest struct {
	APKPath      string `json:"apk_path" binding:"required"`
	TPLPath      string `json:"tpl_path" binding:"required"`
	TPLName      string `json:"tpl_name" binding:"required"`
	Mode         string `json:"mode"` // basic (默认), automated
	DetectorType string `json:"detector_type"`
}

// CreateCampaign 创建战役并投入队列
// POST /api/campaigns
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "参数错误: " + err.Error(),
		})
		return
	}

	mode := domain.CampaignMode(req.Mode)
	if mode == "" {
		mode = domain.CampaignModeBasic
	}
	if mode != domain.CampaignModeBasic && mode != domain.CampaignModeAutomated {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "不支持的攻击模式: " + req.Mode,
		})
		return
	}

	campaign := &domain.Campaign{
		ID:           uuid.New().String(),
		APKName:      filepath.Base(req.APKPath),
		APKPath:      req.APKPath,
		TPLName:      req.TPLName,
		TPLPath:      req.TPLPath,
		DetectorType: req.DetectorType,
		Mode:         mode,
		Status:       domain.CampaignStatusQueued,
	}

	if err := h.repo.Create(c.Request.Context(), campaign); err != nil {
		h.logger.WithError(err).Error("Failed to create campaign")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "创建战役失败",
		})
		return
	}

	msg := &queue.CampaignMessage{
		CampaignID:   campaign.ID,
		APKName:      campaign.APKName,
		APKPath:      campaign.APKPath,
		TPLName:      campaign.TPLName,
		TPLPath:      campaign.TPLPath,
		Mode:         string(campaign.Mode),
		DetectorType: campaign.DetectorType,
	}
	if err := h.publisher.PublishCampaign(c.Request.Context(), msg); err != nil {
		// 入队失败的战役立刻标记失败，不留僵尸排队记录
		h.logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to enqueue campaign")
		_ = h.repo.MarkFailed(c.Request.Context(), campaign.ID, "enqueue_failed", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "战役入队失败",
		})
		return
	}

	c.JSON(http.StatusCreated, campaign)
}

// ListCampaigns 获取战役列表
// GET /api/campaigns?page=1&page_size=20
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	campaigns, total, err := h.repo.ListWithPagination(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list campaigns")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取战役列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaigns": campaigns,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetCampaign 获取战役详情
// GET /api/campaigns/:id
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	id := c.Param("id")

	campaign, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "战役不存在",
			})
			return
		}
		h.logger.WithError(err).WithField("campaign_id", id).Error("Failed to get campaign")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取战役失败",
		})
		return
	}

	c.JSON(http.StatusOK, campaign)
}

// CancelCampaign 取消排队或运行中的战役
// POST /api/campaigns/:id/cancel
func (h *CampaignHandler) CancelCampaign(c *gin.Context) {
	id := c.Param("id")

	if err := h.repo.MarkCancelled(c.Request.Context(), id); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusConflict, gin.H{
				"error": "战役不存在或已结束",
			})
			return
		}
		h.logger.WithError(err).WithField("campaign_id", id).Error("Failed to cancel campaign")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "取消战役失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "战役已取消",
	})
}

// DeleteCampaign 删除战役记录
// DELETE /api/campaigns/:id
func (h *CampaignHandler) DeleteCampaign(c *gin.Context) {
	id := c.Param("id")

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		h.logger.WithError(err).WithField("campaign_id", id).Error("Failed to delete campaign")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "删除战役失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "战役已删除",
	})
}

// GetEvaluation 对全部已结束战役做统计评估
// GET /api/evaluation
func (h *CampaignHandler) GetEvaluation(c *gin.Context) {
	ctx := c.Request.Context()

	completed, err := h.repo.ListByStatus(ctx, domain.CampaignStatusCompleted)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list completed campaigns")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取评估数据失败",
		})
		return
	}

	failed, err := h.repo.ListByStatus(ctx, domain.CampaignStatusFailed)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list failed campaigns")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取评估数据失败",
		})
		return
	}

	outcomes := make([]*engine.AttackOutcome, 0, len(completed)+len(failed))
	for _, cp := range completed {
		outcomes = append(outcomes, campaignOutcome(cp, true))
	}
	for _, cp := range failed {
		outcomes = append(outcomes, campaignOutcome(cp, false))
	}

	c.JSON(http.StatusOK, h.evaluator.Evaluate(outcomes))
}

// campaignOutcome 把数据库记录还原成评估器的输入形态
func campaignOutcome(cp *domain.Campaign, success bool) *engine.AttackOutcome {
	o := &engine.AttackOutcome{
		Success:            success,
		APKPath:            cp.APKPath,
		TPLName:            cp.TPLName,
		OutputDir:          cp.OutputDir,
		OverallSuccessRate: cp.OverallSuccessRate,
		Error:              cp.ErrorMessage,
		ErrorKind:          engine.ErrorKind(cp.ErrorKind),
	}
	for _, s := range cp.StrategyOutcomes {
		o.Results = append(o.Results, engine.StrategyOutcome{
			StrategyName: s.StrategyName,
			SuccessRate:  s.SuccessRate,
		})
	}
	return o
}

// GetStats 获取系统统计
// GET /api/stats
func (h *CampaignHandler) GetStats(c *gin.Context) {
	counts, total, err := h.repo.GetStatusCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get status counts")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "获取统计失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":         total,
		"status_counts": counts,
	})
}
