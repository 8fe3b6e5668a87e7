package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/domain"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/libpass-attack/libpass-attack-go/internal/queue"
	"github.com/libpass-attack/libpass-attack-go/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubRunner 固定结果的子进程执行器，成功时在输出目录写结果文件
type stubRunner struct {
	result *engine.RunResult
}

func (s *stubRunner) Run(_ context.Context, _ string, argv []string, _ time.Duration) *engine.RunResult {
	if s.result.State == engine.RunCompleted && s.result.ExitCode == 0 {
		outDir := argv[8]
		_ = os.WriteFile(filepath.Join(outDir, "attack_results.json"),
			[]byte(`[{"strategyName": "rename_classes", "successRate": 0.9}]`), 0644)
	}
	return s.result
}

func setupRunner(t *testing.T, runResult *engine.RunResult) (*CampaignRunner, repository.CampaignRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Campaign{}, &domain.CampaignStrategyOutcome{}))

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := config.Default()
	cfg.Engine.BaseDir = t.TempDir()
	cfg.Soot.OutputDir = t.TempDir()

	repo := repository.NewCampaignRepository(db, log)
	invoker := engine.NewInvoker(cfg, &stubRunner{result: runResult}, log)

	return NewCampaignRunner(cfg, repo, invoker, nil, log), repo
}

func queueCampaign(t *testing.T, repo repository.CampaignRepository) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		ID:      uuid.New().String(),
		APKName: "app.apk",
		APKPath: "/apks/app.apk",
		TPLName: "okhttp",
		TPLPath: "/tpls/okhttp.jar",
		Mode:    domain.CampaignModeBasic,
		Status:  domain.CampaignStatusQueued,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestCampaignRunner_Handle_Success(t *testing.T) {
	runner, repo := setupRunner(t, &engine.RunResult{State: engine.RunCompleted})
	ctx := context.Background()
	c := queueCampaign(t, repo)

	err := runner.Handle(ctx, &queue.CampaignMessage{CampaignID: c.ID, APKName: c.APKName})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCompleted, found.Status)
	assert.InDelta(t, 0.9, found.OverallSuccessRate, 1e-9)
	require.Len(t, found.StrategyOutcomes, 1)
	require.NotNil(t, found.StartedAt)
	require.NotNil(t, found.CompletedAt)
}

func TestCampaignRunner_Handle_EngineFailure(t *testing.T) {
	runner, repo := setupRunner(t, &engine.RunResult{
		State: engine.RunCompleted, ExitCode: 1, Stderr: "soot crashed",
	})
	ctx := context.Background()
	c := queueCampaign(t, repo)

	// 引擎失败是业务结果，不向消费者报错
	err := runner.Handle(ctx, &queue.CampaignMessage{CampaignID: c.ID})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusFailed, found.Status)
	assert.Equal(t, "exec_failed", found.ErrorKind)
	assert.Equal(t, "soot crashed", found.ErrorMessage)
}

func TestCampaignRunner_Handle_SkipsCancelled(t *testing.T) {
	runner, repo := setupRunner(t, &engine.RunResult{State: engine.RunCompleted})
	ctx := context.Background()
	c := queueCampaign(t, repo)
	require.NoError(t, repo.MarkCancelled(ctx, c.ID))

	err := runner.Handle(ctx, &queue.CampaignMessage{CampaignID: c.ID})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCancelled, found.Status)
}

func TestCampaignRunner_Handle_UnknownCampaign(t *testing.T) {
	runner, _ := setupRunner(t, &engine.RunResult{State: engine.RunCompleted})

	err := runner.Handle(context.Background(), &queue.CampaignMessage{CampaignID: "no-such-id"})

	assert.Error(t, err)
}
