package evaluator

import (
	"fmt"
	"io"
	"sort"

	"github.com/libpass-attack/libpass-attack-go/internal/campaign"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
)

// Report 评估报告：统计指标加原始明细
type Report struct {
	Metrics         *Metrics                `json:"metrics"`
	DetailedResults []*engine.AttackOutcome `json:"detailed_results"`
}

// PrintReport 把指标以可读格式写到 w（通常是 stdout）
func PrintReport(w io.Writer, m *Metrics) {
	fmt.Fprintln(w, "==== Attack Evaluation Report ====")
	fmt.Fprintf(w, "Total attacks:        %d\n", m.TotalAttacks)
	fmt.Fprintf(w, "Successful attacks:   %d\n", m.SuccessfulAttacks)
	fmt.Fprintf(w, "Failed attacks:       %d\n", m.FailedAttacks)
	fmt.Fprintf(w, "Success rate:         %.2f%%\n", m.SuccessRate*100)
	fmt.Fprintf(w, "Average success rate: %.4f\n", m.AverageSuccessRate)
	fmt.Fprintf(w, "Median success rate:  %.4f\n", m.MedianSuccessRate)
	fmt.Fprintf(w, "Max success rate:     %.4f\n", m.MaxSuccessRate)
	fmt.Fprintf(w, "Min success rate:     %.4f\n", m.MinSuccessRate)

	if len(m.StrategyPerformance) == 0 {
		return
	}

	fmt.Fprintln(w, "---- Strategy performance ----")
	names := make([]string, 0, len(m.StrategyPerformance))
	for name := range m.StrategyPerformance {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := m.StrategyPerformance[name]
		fmt.Fprintf(w, "  %-24s count=%-4d avg_rate=%.4f median_rate=%.4f\n", name, s.Count, s.AverageRate, s.MedianRate)
	}
}

// SaveReport 把指标和明细一起落盘
func SaveReport(path string, m *Metrics, outcomes []*engine.AttackOutcome) error {
	report := &Report{
		Metrics:         m,
		DetailedResults: outcomes,
	}
	if report.DetailedResults == nil {
		report.DetailedResults = []*engine.AttackOutcome{}
	}
	return campaign.NewReportWriter().WriteJSON(path, report)
}
