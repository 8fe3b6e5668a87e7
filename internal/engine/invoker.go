package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Invoker 单次攻击调用器
// 每次调用同步执行一个引擎子进程；失败和超时原样上报，不做重试，
// 是否继续由调用方（批量编排器）决定
type Invoker struct {
	cfg     *config.Config
	builder *CommandBuilder
	runner  Runner
	logger  *logrus.Logger
}

func NewInvoker(cfg *config.Config, runner Runner, logger *logrus.Logger) *Invoker {
	return &Invoker{
		cfg:     cfg,
		builder: NewCommandBuilder(cfg.Engine.BaseDir),
		runner:  runner,
		logger:  logger,
	}
}

// InvokeBasic 执行基础攻击（固定策略集入口点）
func (inv *Invoker) InvokeBasic(ctx context.Context, req *BasicRequest) *AttackOutcome {
	r := *req
	if r.AndroidJar == "" {
		r.AndroidJar = inv.cfg.Soot.AndroidJar
	}
	if r.OutputDir == "" {
		r.OutputDir = inv.cfg.Soot.OutputDir
	}
	if r.Timeout <= 0 {
		r.Timeout = inv.cfg.Engine.BasicTimeoutDuration()
	}

	outcome := &AttackOutcome{
		APKPath:   r.APKPath,
		TPLName:   r.TPLName,
		OutputDir: r.OutputDir,
	}

	argv := inv.builder.BuildBasic(&r)
	result := inv.execute(ctx, argv, r.Timeout, outcome)
	if result == nil {
		return outcome
	}

	// 零退出：读取引擎声明的结果文件，缺失按空结果处理
	data, err := readResultIfExists(filepath.Join(r.OutputDir, basicResultFile))
	if err != nil {
		return outcome.fail(ErrorKindParseError, err.Error())
	}

	if data != nil {
		var results []StrategyOutcome
		if err := json.Unmarshal(data, &results); err != nil {
			return outcome.fail(ErrorKindParseError, "malformed result file: "+err.Error())
		}
		outcome.Results = results
		outcome.OverallSuccessRate = overallRate(results)
	}

	outcome.Success = true
	inv.logger.WithFields(logrus.Fields{
		"apk":          r.APKPath,
		"tpl":          r.TPLName,
		"overall_rate": outcome.OverallSuccessRate,
	}).Info("Basic attack completed")
	return outcome
}

// InvokeAutomated 执行自动化攻击（指定检测器，迭代直至无法检出）
func (inv *Invoker) InvokeAutomated(ctx context.Context, req *AutomatedRequest) *AttackOutcome {
	outcome, data := inv.invokeAutomated(ctx, req, automatedResultFile)
	if !outcome.Success {
		return outcome
	}

	if data != nil {
		var auto AutomatedResult
		if err := json.Unmarshal(data, &auto); err != nil {
			outcome.Success = false
			return outcome.fail(ErrorKindParseError, "malformed result file: "+err.Error())
		}
		outcome.AutoResult = &auto
		if auto.AttackSuccess {
			outcome.OverallSuccessRate = 1.0
		}
	}

	inv.logger.WithFields(logrus.Fields{
		"apk":      outcome.APKPath,
		"tpl":      outcome.TPLName,
		"detector": req.DetectorType,
		"evaded":   outcome.AutoResult != nil && outcome.AutoResult.AttackSuccess,
	}).Info("Automated attack completed")
	return outcome
}

// InvokeNativeBatch 以目录为输入执行引擎原生批量攻击
// 聚合结果由引擎写在单个结果文件中
func (inv *Invoker) InvokeNativeBatch(ctx context.Context, req *AutomatedRequest) (*AttackOutcome, *NativeBatchResult) {
	r := *req
	r.Batch = true

	outcome, data := inv.invokeAutomated(ctx, &r, batchResultFile)
	if !outcome.Success {
		return outcome, nil
	}

	batch := &NativeBatchResult{}
	if data != nil {
		if err := json.Unmarshal(data, batch); err != nil {
			outcome.Success = false
			return outcome.fail(ErrorKindParseError, "malformed result file: "+err.Error()), nil
		}
		outcome.OverallSuccessRate = batch.SuccessRate
	}

	inv.logger.WithFields(logrus.Fields{
		"apk_dir":       r.APKPath,
		"total_apks":    batch.TotalApks,
		"success_count": batch.SuccessCount,
		"success_rate":  batch.SuccessRate,
	}).Info("Native batch attack completed")
	return outcome, batch
}

// invokeAutomated 自动化入口点的公共执行路径
// 返回的 data 为 nil 表示结果文件缺失（按空结果处理）
func (inv *Invoker) invokeAutomated(ctx context.Context, req *AutomatedRequest, resultFile string) (*AttackOutcome, []byte) {
	r := *req
	if r.AndroidJar == "" {
		r.AndroidJar = inv.cfg.Soot.AndroidJar
	}
	if r.OutputDir == "" {
		r.OutputDir = inv.cfg.Soot.OutputDir
	}
	if r.DetectorType == "" {
		r.DetectorType = inv.cfg.Detector.Type
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = inv.cfg.Attack.MaxIterations
	}
	if r.Timeout <= 0 {
		if r.Batch {
			r.Timeout = inv.cfg.Engine.BatchTimeoutDuration()
		} else {
			r.Timeout = inv.cfg.Engine.SingleTimeoutDuration()
		}
	}

	outcome := &AttackOutcome{
		APKPath:   r.APKPath,
		TPLName:   r.TPLName,
		OutputDir: r.OutputDir,
	}

	argv := inv.builder.BuildAutomated(&r)
	result := inv.execute(ctx, argv, r.Timeout, outcome)
	if result == nil {
		return outcome, nil
	}

	data, err := readResultIfExists(filepath.Join(r.OutputDir, resultFile))
	if err != nil {
		return outcome.fail(ErrorKindParseError, err.Error()), nil
	}

	outcome.Success = true
	return outcome, data
}

// execute 建输出目录、跑子进程、分类终态
// 返回 nil 表示执行失败，outcome 已填好错误信息；
// 返回非 nil 表示零退出，可以去读结果文件
func (inv *Invoker) execute(ctx context.Context, argv []string, timeout time.Duration, outcome *AttackOutcome) *RunResult {
	if outcome.OutputDir != "" {
		if err := os.MkdirAll(outcome.OutputDir, 0755); err != nil {
			outcome.fail(ErrorKindStartFailed, "failed to create output dir: "+err.Error())
			return nil
		}
	}

	inv.logger.WithField("cmd", strings.Join(argv, " ")).Debug("Executing attack engine")

	result := inv.runner.Run(ctx, inv.cfg.Engine.BaseDir, argv, timeout)
	outcome.Stdout = result.Stdout
	outcome.Stderr = result.Stderr

	switch result.State {
	case RunTimedOut:
		inv.logger.WithFields(logrus.Fields{
			"apk":     outcome.APKPath,
			"timeout": timeout.String(),
		}).Error("Attack engine timed out")
		outcome.fail(ErrorKindTimeout, "attack timed out after "+timeout.String())
		return nil

	case RunFailedToStart:
		inv.logger.WithError(result.Err).Error("Attack engine failed to start")
		outcome.fail(ErrorKindStartFailed, result.Err.Error())
		return nil
	}

	if result.ExitCode != 0 {
		inv.logger.WithFields(logrus.Fields{
			"apk":       outcome.APKPath,
			"exit_code": result.ExitCode,
		}).Error("Attack engine exited with error")
		msg := strings.TrimSpace(result.Stderr)
		if msg == "" {
			msg = "engine exited with code " + strconv.Itoa(result.ExitCode)
		}
		outcome.fail(ErrorKindExecFailed, msg)
		return nil
	}

	return result
}

func (o *AttackOutcome) fail(kind ErrorKind, msg string) *AttackOutcome {
	o.Success = false
	o.ErrorKind = kind
	o.Error = msg
	return o
}

// readResultIfExists 读取结果文件，文件不存在返回 (nil, nil)
// 单次 open 完成存在性判断和读取，避免先 stat 后 read 的竞态
func readResultIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// overallRate 各策略成功率的算术平均，空结果为 0
func overallRate(results []StrategyOutcome) float64 {
	if len(results) == 0 {
		return 0.0
	}
	var total float64
	for _, r := range results {
		total += r.SuccessRate
	}
	return total / float64(len(results))
}
