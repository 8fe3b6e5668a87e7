package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// RunState 子进程执行的三种终态
type RunState int

const (
	RunCompleted RunState = iota // 进程正常退出（退出码可能非零）
	RunTimedOut                  // 超时被杀，输出不可信
	RunFailedToStart             // 进程没能启动
)

// RunResult 一次子进程执行的结果
type RunResult struct {
	State    RunState
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error // TimedOut / FailedToStart 时的底层错误
}

// Runner 子进程执行能力
// 超时是必填参数，由执行原语强制，不依赖协作式取消
type Runner interface {
	Run(ctx context.Context, workDir string, argv []string, timeout time.Duration) *RunResult
}

// execRunner 基于 os/exec 的默认实现
type execRunner struct{}

func NewRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, workDir string, argv []string, timeout time.Duration) *RunResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		result.State = RunCompleted
		return result
	}

	// 超时判定必须先于退出码判定：被杀的进程也带 ExitError
	if runCtx.Err() == context.DeadlineExceeded {
		result.State = RunTimedOut
		result.Err = runCtx.Err()
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.State = RunCompleted
		result.ExitCode = exitErr.ExitCode()
		return result
	}

	// 可执行文件不存在、权限不足等
	result.State = RunFailedToStart
	result.Err = err
	return result
}
