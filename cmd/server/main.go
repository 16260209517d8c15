package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/healthlog/internal/config"
	"github.com/healthlog/internal/db"
	"github.com/healthlog/internal/handler"
	"github.com/healthlog/internal/router"
	"github.com/healthlog/internal/service"
	"github.com/healthlog/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("failed to load timezone %q: %v", cfg.Timezone, err)
	}
	time.Local = loc

	registry := prometheus.NewRegistry()
	collector := telemetry.NewCollector(registry)

	store := service.NewDayStore(db.DB, service.NewFreshnessArbiter()).WithRecorder(collector)
	health := service.NewHealthService(db.DB, store).WithUserAge(cfg.UserAge)
	imports := service.NewImportService(service.NewFieldMapper(loc), store).WithRecorder(collector)

	api := handler.NewAPI(db.DB, cfg, health, imports)

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, registry)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
