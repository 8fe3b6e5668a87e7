package domain

import (
	"time"
)

type CampaignStatus string

const (
	CampaignStatusQueued    CampaignStatus = "queued"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// IsTerminal 终态不再被 worker 捡起
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed || s == CampaignStatusCancelled
}

// CampaignMode 攻击入口点
type CampaignMode string

const (
	CampaignModeBasic     CampaignMode = "basic"     // 固定策略集
	CampaignModeAutomated CampaignMode = "automated" // 指定检测器迭代攻击
)

// FailureSeverity 失败严重程度
type FailureSeverity string

const (
	FailureSeverityWarning FailureSeverity = "warning" // APK 或引擎耗时问题，需关注
	FailureSeverityError   FailureSeverity = "error"   // 环境或程序问题，需排查
)

// SeverityForErrorKind 失败类别到严重程度的映射
// timeout 和 exec_failed 通常是个别 APK 的问题，start_failed 和
// parse_error 意味着引擎部署或版本出了问题
func SeverityForErrorKind(kind string) FailureSeverity {
	switch kind {
	case "timeout", "exec_failed":
		return FailureSeverityWarning
	default:
		return FailureSeverityError
	}
}

// Campaign 攻击战役主表，一条记录对应一次引擎调用
type Campaign struct {
	ID                 string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	APKName            string         `gorm:"type:varchar(255);not null" json:"apk_name"`
	APKPath            string         `gorm:"type:varchar(500);not null" json:"apk_path"`
	TPLName            string         `gorm:"type:varchar(255);not null" json:"tpl_name"`
	TPLPath            string         `gorm:"type:varchar(500)" json:"tpl_path"`
	DetectorType       string         `gorm:"type:varchar(50)" json:"detector_type,omitempty"`
	Mode               CampaignMode   `gorm:"type:varchar(20);not null;default:'basic'" json:"mode"`
	Status             CampaignStatus `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	ErrorKind          string         `gorm:"type:varchar(30);default:''" json:"error_kind,omitempty"`
	ErrorMessage       string         `gorm:"type:text" json:"error_message,omitempty"`
	OverallSuccessRate float64        `gorm:"type:decimal(5,4);default:0" json:"overall_success_rate"`
	AttackEvaded       bool           `gorm:"default:false" json:"attack_evaded"`
	OutputDir          string         `gorm:"type:varchar(500)" json:"output_dir,omitempty"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`

	// 关联
	StrategyOutcomes []CampaignStrategyOutcome `gorm:"foreignKey:CampaignID;references:ID" json:"strategy_outcomes,omitempty"`
}

func (Campaign) TableName() string {
	return "attack_campaigns"
}

// CampaignStrategyOutcome 单策略结果表
type CampaignStrategyOutcome struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CampaignID   string    `gorm:"type:varchar(36);index:idx_campaign_id;not null" json:"campaign_id"`
	StrategyName string    `gorm:"type:varchar(100);not null" json:"strategy_name"`
	SuccessRate  float64   `gorm:"type:decimal(5,4);default:0" json:"success_rate"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CampaignStrategyOutcome) TableName() string {
	return "campaign_strategy_outcomes"
}
