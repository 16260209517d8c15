package router

import (
	"github.com/gin-gonic/gin"
	"github.com/healthlog/internal/handler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置 Gin 引擎和路由。
func SetupRouter(api *handler.API, registry *prometheus.Registry) *gin.Engine {
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// Prometheus 指标
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	health := r.Group("/api/health")
	{
		health.GET("/metrics", api.GetHealthMetrics)
		health.PUT("/metrics", api.UpsertHealthMetrics)
		health.GET("/datapoints", api.GetHealthDataPoints)
		health.POST("/manual", api.UpsertManualEntry)

		health.GET("/lock", api.GetDataLockStatus)
		health.POST("/lock", api.SetDataLock)
		health.DELETE("/lock", api.UnlockAllData)

		health.POST("/import", api.RunImport)

		health.POST("/wipe", api.WipeAllData)
	}

	return r
}
