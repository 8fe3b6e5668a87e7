package campaign

import (
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
)

// BatchSummaryFile 批量战役汇总文件名，写在输出根目录下
const BatchSummaryFile = "batch_summary.json"

// BatchSummary 一次批量战役的聚合结果
type BatchSummary struct {
	TotalAPKs          int                     `json:"total_apks"`
	SuccessfulAttacks  int                     `json:"successful_attacks"`
	FailedAttacks      int                     `json:"failed_attacks"`
	AverageSuccessRate float64                 `json:"average_success_rate"`
	DetailedResults    []*engine.AttackOutcome `json:"detailed_results"`
}

// Summarize 从逐条结果聚合出汇总
// 平均成功率只对成功条目求均值，失败条目不稀释分母
func Summarize(outcomes []*engine.AttackOutcome) *BatchSummary {
	summary := &BatchSummary{
		TotalAPKs:       len(outcomes),
		DetailedResults: outcomes,
	}
	if summary.DetailedResults == nil {
		summary.DetailedResults = []*engine.AttackOutcome{}
	}

	var rateSum float64
	for _, o := range outcomes {
		if o.Success {
			summary.SuccessfulAttacks++
			rateSum += o.OverallSuccessRate
		} else {
			summary.FailedAttacks++
		}
	}
	if summary.SuccessfulAttacks > 0 {
		summary.AverageSuccessRate = rateSum / float64(summary.SuccessfulAttacks)
	}
	return summary
}
