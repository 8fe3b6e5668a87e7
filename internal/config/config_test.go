package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadOrDefault_MissingFile 配置文件不存在时必须精确返回内置默认值
func TestLoadOrDefault_MissingFile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := LoadOrDefault("/nonexistent/config.yaml", logger)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "LibScan", cfg.Detector.Type)
	assert.Equal(t, []string{
		"rename_packages",
		"rename_classes",
		"modify_signatures",
		"inject_fake_libraries",
	}, cfg.Attack.Strategies)
	assert.Equal(t, 100, cfg.Attack.MaxIterations)
	assert.InDelta(t, 0.85, cfg.Attack.TargetSuccessRate, 1e-9)
	assert.Equal(t, "/opt/android-sdk/platforms/android-30/android.jar", cfg.Soot.AndroidJar)
	assert.Equal(t, "./output", cfg.Soot.OutputDir)
	assert.Equal(t, "./process", cfg.Soot.ProcessDir)
}

// TestLoadOrDefault_InvalidYAML 解析失败同样回退默认配置，不向外抛错
func TestLoadOrDefault_InvalidYAML(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detector: [unclosed"), 0644))

	cfg := LoadOrDefault(path, logger)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_PartialConfig 部分字段缺失时由默认值补齐
func TestLoad_PartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
detector:
  type: LibPecker
attack:
  max_iterations: 50
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// 显式指定的字段生效
	assert.Equal(t, "LibPecker", cfg.Detector.Type)
	assert.Equal(t, 50, cfg.Attack.MaxIterations)

	// 未指定的字段取默认值
	assert.Equal(t, Default().Attack.Strategies, cfg.Attack.Strategies)
	assert.Equal(t, Default().Soot.AndroidJar, cfg.Soot.AndroidJar)
	assert.Equal(t, Default().Engine.SingleTimeout, cfg.Engine.SingleTimeout)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
}

// TestEngine_TimeoutDurations 超时换算
func TestEngine_TimeoutDurations(t *testing.T) {
	eng := Default().Engine
	assert.Equal(t, "10m0s", eng.BasicTimeoutDuration().String())
	assert.Equal(t, "1h0m0s", eng.SingleTimeoutDuration().String())
	assert.Equal(t, "2h0m0s", eng.BatchTimeoutDuration().String())
}
