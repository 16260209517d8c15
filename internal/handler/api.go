package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/healthlog/internal/config"
	"github.com/healthlog/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db      *gorm.DB
	cfg     config.AppConfig
	health  *service.HealthService
	imports *service.ImportService
	drive   service.DriveClient
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, health *service.HealthService, imports *service.ImportService) *API {
	return &API{
		db:      gdb,
		cfg:     cfg,
		health:  health,
		imports: imports,
	}
}

// WithDriveClient 注入云盘协作方实现，未注入时云盘导入不可用。
func (a *API) WithDriveClient(client service.DriveClient) *API {
	a.drive = client
	return a
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func respondSuccess(c *gin.Context, status int, data gin.H) {
	payload := gin.H{"success": true}
	for key, value := range data {
		payload[key] = value
	}
	c.JSON(status, payload)
}
