package engine

import "time"

// 攻击请求分为两个独立变体，由调用方显式选择入口点，
// 而不是根据可选字段是否为空来猜测。

// BasicRequest 基础攻击请求（固定策略集，策略来自配置）
// 构造后不可变
type BasicRequest struct {
	APKPath    string // APK 文件或目录
	TPLPath    string // 目标 TPL 文件（JAR 或 DEX）
	TPLName    string
	AndroidJar string
	OutputDir  string
	Timeout    time.Duration // 零值时由 Invoker 取配置默认
}

// AutomatedRequest 自动化攻击请求（指定检测器，迭代攻击直至无法检出）
// 构造后不可变
type AutomatedRequest struct {
	APKPath       string // APK 文件；传目录则为引擎原生批量模式
	TPLPath       string
	TPLName       string
	AndroidJar    string
	OutputDir     string
	DetectorType  string // 零值时由 Invoker 取配置默认
	MaxIterations int    // 零值时由 Invoker 取配置默认
	Batch         bool   // APKPath 是否为目录（决定结果文件与超时）
	Timeout       time.Duration
}

// ErrorKind 单次调用的失败类别
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindExecFailed  ErrorKind = "exec_failed"  // 引擎非零退出
	ErrorKindTimeout     ErrorKind = "timeout"      // 超时，部分输出不可信
	ErrorKindStartFailed ErrorKind = "start_failed" // 进程无法启动（引擎缺失等）
	ErrorKindParseError  ErrorKind = "parse_error"  // 零退出但结果文件损坏
)

// StrategyOutcome 引擎报告的单策略结果
// 字段名与引擎输出的 JSON 键保持一致（引擎侧是 Java 命名）
type StrategyOutcome struct {
	StrategyName string  `json:"strategyName"`
	SuccessRate  float64 `json:"successRate"`
}

// AutomatedResult 自动化攻击结果文件内容
type AutomatedResult struct {
	AttackSuccess bool `json:"attackSuccess"`
	Iterations    int  `json:"iterations,omitempty"`
}

// NativeBatchResult 引擎原生批量攻击结果文件内容
type NativeBatchResult struct {
	SuccessRate  float64 `json:"successRate"`
	SuccessCount int     `json:"successCount"`
	TotalApks    int     `json:"totalApks"`
}

// AttackOutcome 单次引擎调用的结果
// 由 Invoker 创建，创建后不再修改
type AttackOutcome struct {
	Success            bool              `json:"success"`
	APKPath            string            `json:"apk_path"`
	TPLName            string            `json:"tpl_name,omitempty"`
	OutputDir          string            `json:"output_dir,omitempty"`
	Results            []StrategyOutcome `json:"results,omitempty"`
	OverallSuccessRate float64           `json:"overall_success_rate"`
	AutoResult         *AutomatedResult  `json:"auto_result,omitempty"`
	Stdout             string            `json:"stdout,omitempty"`
	Stderr             string            `json:"stderr,omitempty"`
	Error              string            `json:"error,omitempty"`
	ErrorKind          ErrorKind         `json:"error_kind,omitempty"`
}
