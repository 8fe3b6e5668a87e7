package evaluator

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/sirupsen/logrus"
)

// 未标明策略的结果归入该桶
const unknownStrategy = "unknown"

// StrategyStats 单策略的聚合表现
type StrategyStats struct {
	Count       int     `json:"count"`
	AverageRate float64 `json:"average_success_rate"`
	MedianRate  float64 `json:"median_success_rate"`

	rates []float64
}

// Metrics 一批攻击结果的统计指标
type Metrics struct {
	TotalAttacks        int                       `json:"total_attacks"`
	SuccessfulAttacks   int                       `json:"successful_attacks"`
	FailedAttacks       int                       `json:"failed_attacks"`
	SuccessRate         float64                   `json:"success_rate"`
	SuccessRates        []float64                 `json:"success_rates"`
	AverageSuccessRate  float64                   `json:"average_success_rate"`
	MedianSuccessRate   float64                   `json:"median_success_rate"`
	MaxSuccessRate      float64                   `json:"max_success_rate"`
	MinSuccessRate      float64                   `json:"min_success_rate"`
	StrategyPerformance map[string]*StrategyStats `json:"strategy_performance"`
}

// Evaluator 攻击结果的离线统计器
type Evaluator struct {
	logger *logrus.Logger
}

func NewEvaluator(logger *logrus.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Load 读取结果文件，对三种历史格式都兼容：
// 结果列表、单个结果对象、带 detailed_results 的批量汇总
func (e *Evaluator) Load(path string) ([]*engine.AttackOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	var outcomes []*engine.AttackOutcome
	if err := json.Unmarshal(data, &outcomes); err == nil {
		return outcomes, nil
	}

	var summary struct {
		DetailedResults []*engine.AttackOutcome `json:"detailed_results"`
	}
	if err := json.Unmarshal(data, &summary); err == nil && summary.DetailedResults != nil {
		return summary.DetailedResults, nil
	}

	var single engine.AttackOutcome
	if err := json.Unmarshal(data, &single); err == nil {
		return []*engine.AttackOutcome{&single}, nil
	}

	return nil, fmt.Errorf("unrecognized results format: %s", path)
}

// Evaluate 对一批结果计算统计指标
// 空输入返回全零计数，不视为错误；极值种子 max=0.0、min=1.0，
// 成功率序列为空时保持种子值，区间退化但定义良好
func (e *Evaluator) Evaluate(outcomes []*engine.AttackOutcome) *Metrics {
	m := &Metrics{
		TotalAttacks:        len(outcomes),
		MinSuccessRate:      1.0,
		SuccessRates:        []float64{},
		StrategyPerformance: make(map[string]*StrategyStats),
	}

	var rates []float64
	for _, o := range outcomes {
		if !o.Success {
			m.FailedAttacks++
			continue
		}
		m.SuccessfulAttacks++
		rates = append(rates, o.OverallSuccessRate)

		if o.OverallSuccessRate > m.MaxSuccessRate {
			m.MaxSuccessRate = o.OverallSuccessRate
		}
		if o.OverallSuccessRate < m.MinSuccessRate {
			m.MinSuccessRate = o.OverallSuccessRate
		}

		e.bucketStrategies(m, o)
	}

	if m.TotalAttacks > 0 {
		m.SuccessRate = float64(m.SuccessfulAttacks) / float64(m.TotalAttacks)
	}
	if len(rates) > 0 {
		m.SuccessRates = rates
		m.AverageSuccessRate = mean(rates)
		m.MedianSuccessRate = median(rates)
	}

	for _, s := range m.StrategyPerformance {
		if len(s.rates) > 0 {
			s.AverageRate = mean(s.rates)
			s.MedianRate = median(s.rates)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"total":      m.TotalAttacks,
		"successful": m.SuccessfulAttacks,
		"avg_rate":   m.AverageSuccessRate,
	}).Info("Evaluation completed")
	return m
}

// bucketStrategies 把单条结果的策略明细并入对应桶
// 只统计嵌套的策略结果；没有明细的结果（自动化模式）不进任何桶
func (e *Evaluator) bucketStrategies(m *Metrics, o *engine.AttackOutcome) {
	for _, r := range o.Results {
		name := r.StrategyName
		if name == "" {
			name = unknownStrategy
		}
		e.bucket(m, name, r.SuccessRate)
	}
}

func (e *Evaluator) bucket(m *Metrics, name string, rate float64) {
	s, ok := m.StrategyPerformance[name]
	if !ok {
		s = &StrategyStats{}
		m.StrategyPerformance[name] = s
	}
	s.Count++
	s.rates = append(s.rates, rate)
}

func mean(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
