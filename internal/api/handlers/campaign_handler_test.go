package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/libpass-attack/libpass-attack-go/internal/domain"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/libpass-attack/libpass-attack-go/internal/evaluator"
	"github.com/libpass-attack/libpass-attack-go/internal/queue"
	"github.com/libpass-attack/libpass-attack-go/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakePublisher 记录发布的消息，可注入失败
type fakePublisher struct {
	published []*queue.CampaignMessage
	err       error
}

func (f *fakePublisher) PublishCampaign(_ context.Context, msg *queue.CampaignMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func setupHandler(t *testing.T, pub *fakePublisher) (*gin.Engine, repository.CampaignRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Campaign{}, &domain.CampaignStrategyOutcome{}))

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	repo := repository.NewCampaignRepository(db, log)
	h := NewCampaignHandler(repo, pub, log)

	r := gin.New()
	r.POST("/api/campaigns", h.CreateCampaign)
	r.GET("/api/campaigns", h.ListCampaigns)
	r.GET("/api/campaigns/:id", h.GetCampaign)
	r.POST("/api/campaigns/:id/cancel", h.CancelCampaign)
	r.DELETE("/api/campaigns/:id", h.DeleteCampaign)
	r.GET("/api/stats", h.GetStats)
	r.GET("/api/evaluation", h.GetEvaluation)

	return r, repo
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCampaign(t *testing.T) {
	pub := &fakePublisher{}
	r, repo := setupHandler(t, pub)

	w := postJSON(t, r, "/api/campaigns", CreateCampaignRequest{
		APKPath: "/apks/app.apk",
		TPLPath: "/tpls/okhttp.jar",
		TPLName: "okhttp",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "app.apk", created.APKName)
	assert.Equal(t, domain.CampaignModeBasic, created.Mode)
	assert.Equal(t, domain.CampaignStatusQueued, created.Status)

	// 消息已发布且与落库记录一致
	require.Len(t, pub.published, 1)
	assert.Equal(t, created.ID, pub.published[0].CampaignID)

	_, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
}

func TestCreateCampaign_InvalidBody(t *testing.T) {
	r, _ := setupHandler(t, &fakePublisher{})

	w := postJSON(t, r, "/api/campaigns", map[string]string{"apk_path": "/apks/app.apk"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCampaign_InvalidMode(t *testing.T) {
	r, _ := setupHandler(t, &fakePublisher{})

	w := postJSON(t, r, "/api/campaigns", CreateCampaignRequest{
		APKPath: "/apks/app.apk",
		TPLPath: "/tpls/okhttp.jar",
		TPLName: "okhttp",
		Mode:    "hybrid",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCampaign_EnqueueFailure(t *testing.T) {
	pub := &fakePublisher{err: fmt.Errorf("broker down")}
	r, repo := setupHandler(t, pub)

	w := postJSON(t, r, "/api/campaigns", CreateCampaignRequest{
		APKPath: "/apks/app.apk",
		TPLPath: "/tpls/okhttp.jar",
		TPLName: "okhttp",
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)

	// 入队失败的记录被标记为失败，不会留在排队状态
	campaigns, _, err := repo.ListWithPagination(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, domain.CampaignStatusFailed, campaigns[0].Status)
}

func TestGetCampaign_NotFound(t *testing.T) {
	r, _ := setupHandler(t, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/no-such-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelCampaign(t *testing.T) {
	pub := &fakePublisher{}
	r, repo := setupHandler(t, pub)

	w := postJSON(t, r, "/api/campaigns", CreateCampaignRequest{
		APKPath: "/apks/app.apk",
		TPLPath: "/tpls/okhttp.jar",
		TPLName: "okhttp",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created domain.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/"+created.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	found, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCancelled, found.Status)

	// 再次取消返回冲突
	req = httptest.NewRequest(http.MethodPost, "/api/campaigns/"+created.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetEvaluation(t *testing.T) {
	pub := &fakePublisher{}
	r, repo := setupHandler(t, pub)

	// 一条完成、一条失败的历史战役
	var ids []string
	for i := 0; i < 2; i++ {
		w := postJSON(t, r, "/api/campaigns", CreateCampaignRequest{
			APKPath: fmt.Sprintf("/apks/app%d.apk", i),
			TPLPath: "/tpls/okhttp.jar",
			TPLName: "okhttp",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		var created domain.Campaign
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		ids = append(ids, created.ID)
	}

	ctx := context.Background()
	require.NoError(t, repo.MarkCompleted(ctx, ids[0], &engine.AttackOutcome{
		Success:            true,
		OverallSuccessRate: 0.8,
		Results: []engine.StrategyOutcome{
			{StrategyName: "rename_classes", SuccessRate: 0.8},
		},
	}))
	require.NoError(t, repo.MarkFailed(ctx, ids[1], "timeout", "attack timed out"))

	req := httptest.NewRequest(http.MethodGet, "/api/evaluation", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var metrics evaluator.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, 2, metrics.TotalAttacks)
	assert.Equal(t, 1, metrics.SuccessfulAttacks)
	assert.Equal(t, 1, metrics.FailedAttacks)
	assert.InDelta(t, 0.8, metrics.AverageSuccessRate, 1e-9)
	require.Contains(t, metrics.StrategyPerformance, "rename_classes")
	assert.Equal(t, 1, metrics.StrategyPerformance["rename_classes"].Count)
}

func TestGetStats(t *testing.T) {
	pub := &fakePublisher{}
	r, _ := setupHandler(t, pub)

	for i := 0; i < 2; i++ {
		w := postJSON(t, r, "/api/campaigns", CreateCampaignRequest{
			APKPath: fmt.Sprintf("/apks/app%d.apk", i),
			TPLPath: "/tpls/okhttp.jar",
			TPLName: "okhttp",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Total        int64            `json:"total"`
		StatusCounts map[string]int64 `json:"status_counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.StatusCounts["queued"])
}
