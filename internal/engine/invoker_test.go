package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 可编程的子进程执行器，按固定结果应答
type fakeRunner struct {
	result   *RunResult
	lastArgv []string
	calls    int
}

func (f *fakeRunner) Run(_ context.Context, _ string, argv []string, _ time.Duration) *RunResult {
	f.calls++
	f.lastArgv = argv
	return f.result
}

func testInvoker(t *testing.T, runner Runner) (*Invoker, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.BaseDir = t.TempDir()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewInvoker(cfg, runner, logger), t.TempDir()
}

// TestInvokeBasic_Success 零退出且结果文件存在：解析策略结果并取平均
func TestInvokeBasic_Success(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted, Stdout: "done"}}
	inv, outDir := testInvoker(t, runner)

	resultJSON := `[
		{"strategyName": "rename_classes", "successRate": 0.8},
		{"strategyName": "modify_signatures", "successRate": 0.6}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "attack_results.json"), []byte(resultJSON), 0644))

	outcome := inv.InvokeBasic(context.Background(), &BasicRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, ErrorKindNone, outcome.ErrorKind)
	require.Len(t, outcome.Results, 2)
	assert.InDelta(t, 0.7, outcome.OverallSuccessRate, 1e-9)
	assert.Equal(t, "done", outcome.Stdout)
}

// TestInvokeBasic_MissingResultFile 零退出但结果文件缺失：按空结果成功处理，不算错误
func TestInvokeBasic_MissingResultFile(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted}}
	inv, outDir := testInvoker(t, runner)

	outcome := inv.InvokeBasic(context.Background(), &BasicRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.Results)
	assert.Zero(t, outcome.OverallSuccessRate)
	assert.Empty(t, outcome.Error)
}

// TestInvokeBasic_EngineFailure 非零退出：失败结果带 stderr 内容
func TestInvokeBasic_EngineFailure(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted, ExitCode: 1, Stderr: "soot crashed\n"}}
	inv, outDir := testInvoker(t, runner)

	outcome := inv.InvokeBasic(context.Background(), &BasicRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, ErrorKindExecFailed, outcome.ErrorKind)
	assert.Equal(t, "soot crashed", outcome.Error)
}

// TestInvokeBasic_Timeout 超时：不信任任何部分输出
func TestInvokeBasic_Timeout(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunTimedOut, Err: context.DeadlineExceeded}}
	inv, outDir := testInvoker(t, runner)

	// 即使引擎留下了结果文件也不读取
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "attack_results.json"),
		[]byte(`[{"strategyName": "rename_classes", "successRate": 1.0}]`), 0644))

	outcome := inv.InvokeBasic(context.Background(), &BasicRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, ErrorKindTimeout, outcome.ErrorKind)
	assert.Empty(t, outcome.Results)
}

// TestInvokeBasic_MalformedResult 零退出但结果文件损坏：该条目失败但可识别为解析错误
func TestInvokeBasic_MalformedResult(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted}}
	inv, outDir := testInvoker(t, runner)

	require.NoError(t, os.WriteFile(filepath.Join(outDir, "attack_results.json"), []byte("{not json"), 0644))

	outcome := inv.InvokeBasic(context.Background(), &BasicRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, ErrorKindParseError, outcome.ErrorKind)
}

// TestInvokeAutomated_Defaults 未指定的检测器与迭代上限从配置补齐
func TestInvokeAutomated_Defaults(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted}}
	inv, outDir := testInvoker(t, runner)

	outcome := inv.InvokeAutomated(context.Background(), &AutomatedRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.True(t, outcome.Success)
	require.NotEmpty(t, runner.lastArgv)
	// 位置参数末两位是检测器与迭代上限
	assert.Equal(t, "LibScan", runner.lastArgv[len(runner.lastArgv)-2])
	assert.Equal(t, "100", runner.lastArgv[len(runner.lastArgv)-1])
}

// TestInvokeAutomated_AttackSuccess 引擎报告攻破时整体成功率记为 1.0
func TestInvokeAutomated_AttackSuccess(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted}}
	inv, outDir := testInvoker(t, runner)

	require.NoError(t, os.WriteFile(filepath.Join(outDir, "automated_attack_result.json"),
		[]byte(`{"attackSuccess": true, "iterations": 7}`), 0644))

	outcome := inv.InvokeAutomated(context.Background(), &AutomatedRequest{
		APKPath:   "app.apk",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.AutoResult)
	assert.True(t, outcome.AutoResult.AttackSuccess)
	assert.Equal(t, 7, outcome.AutoResult.Iterations)
	assert.InDelta(t, 1.0, outcome.OverallSuccessRate, 1e-9)
}

// TestInvokeNativeBatch 批量结果文件解析为聚合数字
func TestInvokeNativeBatch(t *testing.T) {
	runner := &fakeRunner{result: &RunResult{State: RunCompleted}}
	inv, outDir := testInvoker(t, runner)

	require.NoError(t, os.WriteFile(filepath.Join(outDir, "batch_attack_result.json"),
		[]byte(`{"successRate": 0.6, "successCount": 3, "totalApks": 5}`), 0644))

	outcome, batch := inv.InvokeNativeBatch(context.Background(), &AutomatedRequest{
		APKPath:   "/apks",
		TPLPath:   "okhttp.jar",
		TPLName:   "okhttp",
		OutputDir: outDir,
	})

	assert.True(t, outcome.Success)
	require.NotNil(t, batch)
	assert.Equal(t, 5, batch.TotalApks)
	assert.Equal(t, 3, batch.SuccessCount)
	assert.InDelta(t, 0.6, batch.SuccessRate, 1e-9)
	assert.InDelta(t, 0.6, outcome.OverallSuccessRate, 1e-9)
}
