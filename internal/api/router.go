package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/libpass-attack/libpass-attack-go/internal/api/handlers"
	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/middleware"
	"github.com/libpass-attack/libpass-attack-go/internal/repository"
	"github.com/sirupsen/logrus"
)

func SetupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	repo repository.CampaignRepository,
	publisher handlers.CampaignPublisher,
	promMetrics *middleware.PrometheusMetrics,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	campaignHandler := handlers.NewCampaignHandler(repo, publisher, logger)

	v1 := r.Group("/api")
	{
		// 健康检查
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"version": "1.0.0",
			})
		})

		// 系统统计与历史评估
		v1.GET("/stats", campaignHandler.GetStats)
		v1.GET("/evaluation", campaignHandler.GetEvaluation)

		// 战役管理
		v1.POST("/campaigns", campaignHandler.CreateCampaign)
		v1.GET("/campaigns", campaignHandler.ListCampaigns)
		v1.GET("/campaigns/:id", campaignHandler.GetCampaign)
		v1.POST("/campaigns/:id/cancel", campaignHandler.CancelCampaign)
		v1.DELETE("/campaigns/:id", campaignHandler.DeleteCampaign)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
