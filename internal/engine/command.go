package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Java 入口点，与引擎的 main class 一一对应
const (
	basicMainClass     = "com.libpass.attack.LibPassAttackMain"
	automatedMainClass = "com.libpass.attack.AutomatedAttackMain"
)

// 结果文件名，由引擎约定写入请求的输出目录
const (
	basicResultFile     = "attack_results.json"
	automatedResultFile = "automated_attack_result.json"
	batchResultFile     = "batch_attack_result.json"
)

// CommandBuilder 构造引擎的 java 调用命令
// 位置参数顺序是与引擎的二进制约定，引擎按位置解析，顺序不可调整
type CommandBuilder struct {
	baseDir string
}

func NewCommandBuilder(baseDir string) *CommandBuilder {
	return &CommandBuilder{baseDir: baseDir}
}

// resolveClasspath 解析引擎产物位置
// 优先级：打包好的 fat jar > 备用 jar 名 > 编译产物目录 + 依赖通配符
func (b *CommandBuilder) resolveClasspath() string {
	jarPath := filepath.Join(b.baseDir, "build", "libs", "libpass-attack-1.0.0.jar")
	if fileExists(jarPath) {
		return jarPath
	}

	jarPath = filepath.Join(b.baseDir, "build", "libs", "libpass-attack-all.jar")
	if fileExists(jarPath) {
		return jarPath
	}

	// classpath 回退方式：编译后的 class 目录加上 libs 下全部依赖
	classesDir := filepath.Join(b.baseDir, "build", "classes", "java", "main")
	libsGlob := filepath.Join(b.baseDir, "libs", "*")
	return fmt.Sprintf("%s%c%s", classesDir, os.PathListSeparator, libsGlob)
}

// BuildBasic 构造基础攻击命令
func (b *CommandBuilder) BuildBasic(req *BasicRequest) []string {
	return []string{
		"java",
		"-cp", b.resolveClasspath(),
		basicMainClass,
		req.APKPath,
		req.TPLPath,
		req.TPLName,
		req.AndroidJar,
		req.OutputDir,
	}
}

// BuildAutomated 构造自动化攻击命令
func (b *CommandBuilder) BuildAutomated(req *AutomatedRequest) []string {
	return []string{
		"java",
		"-cp", b.resolveClasspath(),
		automatedMainClass,
		req.APKPath,
		req.TPLPath,
		req.TPLName,
		req.AndroidJar,
		req.OutputDir,
		req.DetectorType,
		strconv.Itoa(req.MaxIterations),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
