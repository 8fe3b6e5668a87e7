package campaign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/sirupsen/logrus"
)

// BatchRequest 批量战役请求：对目录下全部 APK 逐个攻击同一个目标 TPL
type BatchRequest struct {
	APKDir        string
	TPLPath       string
	TPLName       string
	AndroidJar    string // 零值时取配置默认
	OutputDir     string // 零值时取配置默认
	Automated     bool   // true 走自动化入口点，false 走基础入口点
	DetectorType  string
	MaxIterations int
}

// Orchestrator 批量战役编排器
// 串行遍历目录下的 APK，单条失败只记录不中断，最后聚合汇总并落盘
type Orchestrator struct {
	cfg     *config.Config
	invoker *engine.Invoker
	writer  *ReportWriter
	logger  *logrus.Logger
}

func NewOrchestrator(cfg *config.Config, invoker *engine.Invoker, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		invoker: invoker,
		writer:  NewReportWriter(),
		logger:  logger,
	}
}

// Run 执行批量战役，返回聚合汇总
// APK 目录不存在是调用方错误，直接失败；目录为空则产出零条目汇总
func (o *Orchestrator) Run(ctx context.Context, req *BatchRequest) (*BatchSummary, error) {
	outputRoot := req.OutputDir
	if outputRoot == "" {
		outputRoot = o.cfg.Soot.OutputDir
	}

	apks, err := listAPKs(req.APKDir)
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"apk_dir":   req.APKDir,
		"apk_count": len(apks),
		"tpl":       req.TPLName,
		"automated": req.Automated,
	}).Info("Starting batch campaign")

	outcomes := make([]*engine.AttackOutcome, 0, len(apks))
	for i, apk := range apks {
		if ctx.Err() != nil {
			o.logger.Warn("Batch campaign cancelled")
			break
		}

		o.logger.WithFields(logrus.Fields{
			"apk":      filepath.Base(apk),
			"progress": fmt.Sprintf("%d/%d", i+1, len(apks)),
		}).Info("Attacking APK")

		// 每个 APK 独占一个以文件名命名的输出子目录，避免结果文件互相覆盖
		itemOut := filepath.Join(outputRoot, apkStem(apk))

		var outcome *engine.AttackOutcome
		if req.Automated {
			outcome = o.invoker.InvokeAutomated(ctx, &engine.AutomatedRequest{
				APKPath:       apk,
				TPLPath:       req.TPLPath,
				TPLName:       req.TPLName,
				AndroidJar:    req.AndroidJar,
				OutputDir:     itemOut,
				DetectorType:  req.DetectorType,
				MaxIterations: req.MaxIterations,
			})
		} else {
			outcome = o.invoker.InvokeBasic(ctx, &engine.BasicRequest{
				APKPath:    apk,
				TPLPath:    req.TPLPath,
				TPLName:    req.TPLName,
				AndroidJar: req.AndroidJar,
				OutputDir:  itemOut,
			})
		}

		if !outcome.Success {
			o.logger.WithFields(logrus.Fields{
				"apk":   filepath.Base(apk),
				"kind":  string(outcome.ErrorKind),
				"error": outcome.Error,
			}).Error("Attack failed, continuing with next APK")
		}
		outcomes = append(outcomes, outcome)
	}

	summary := Summarize(outcomes)
	summaryPath := filepath.Join(outputRoot, BatchSummaryFile)
	if err := o.writer.WriteJSON(summaryPath, summary); err != nil {
		return summary, fmt.Errorf("failed to write batch summary: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"total":        summary.TotalAPKs,
		"successful":   summary.SuccessfulAttacks,
		"failed":       summary.FailedAttacks,
		"average_rate": summary.AverageSuccessRate,
		"summary":      summaryPath,
	}).Info("Batch campaign completed")
	return summary, nil
}

// RunNative 把整个目录交给引擎的原生批量模式，单次子进程完成全部 APK
// 引擎只回报聚合数字，逐条明细由引擎自身落盘
func (o *Orchestrator) RunNative(ctx context.Context, req *BatchRequest) (*BatchSummary, error) {
	outputRoot := req.OutputDir
	if outputRoot == "" {
		outputRoot = o.cfg.Soot.OutputDir
	}

	if info, err := os.Stat(req.APKDir); err != nil {
		return nil, fmt.Errorf("apk dir unavailable: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("apk dir is not a directory: %s", req.APKDir)
	}

	outcome, batch := o.invoker.InvokeNativeBatch(ctx, &engine.AutomatedRequest{
		APKPath:       req.APKDir,
		TPLPath:       req.TPLPath,
		TPLName:       req.TPLName,
		AndroidJar:    req.AndroidJar,
		OutputDir:     outputRoot,
		DetectorType:  req.DetectorType,
		MaxIterations: req.MaxIterations,
	})

	summary := &BatchSummary{
		DetailedResults: []*engine.AttackOutcome{outcome},
	}
	if batch != nil {
		summary.TotalAPKs = batch.TotalApks
		summary.SuccessfulAttacks = batch.SuccessCount
		summary.FailedAttacks = batch.TotalApks - batch.SuccessCount
		summary.AverageSuccessRate = batch.SuccessRate
	}

	summaryPath := filepath.Join(outputRoot, BatchSummaryFile)
	if err := o.writer.WriteJSON(summaryPath, summary); err != nil {
		return summary, fmt.Errorf("failed to write batch summary: %w", err)
	}

	if !outcome.Success {
		return summary, fmt.Errorf("native batch attack failed: %s", outcome.Error)
	}
	return summary, nil
}

// listAPKs 列出目录下的 APK，按文件名排序保证批次顺序稳定
func listAPKs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read apk dir: %w", err)
	}

	var apks []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".apk") {
			apks = append(apks, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(apks)
	return apks, nil
}

// apkStem 去掉扩展名的文件名，用作输出子目录名
func apkStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
