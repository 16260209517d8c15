package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/healthlog/internal/service"
)

// defaultImportSinceDays 是厂商 API 拉取在未指定起点时的默认回看天数。
const defaultImportSinceDays = 30

type importPayload struct {
	UserID uint   `json:"user_id"`
	Source string `json:"source"`
	Path   string `json:"path"`
	Since  string `json:"since"`
}

// RunImport 按来源构造适配器并执行一次导入，返回部分成功汇总。
func (a *API) RunImport(c *gin.Context) {
	var payload importPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.UserID == 0 {
		respondError(c, http.StatusBadRequest, "user_id is required")
		return
	}

	adapter, err := a.buildAdapter(payload)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := a.imports.Run(c.Request.Context(), adapter, payload.UserID)
	if err != nil {
		respondError(c, http.StatusBadGateway, fmt.Sprintf("import failed: %v", err))
		return
	}

	// 新数据落库后富化缓存必须失效
	a.health.InvalidateCache(payload.UserID)

	respondSuccess(c, http.StatusOK, gin.H{
		"run_id":          summary.RunID,
		"source":          summary.Source,
		"files_processed": summary.FilesProcessed,
		"records_found":   summary.RecordsFound,
		"records_merged":  summary.RecordsMerged,
		"fields_applied":  summary.FieldsApplied,
		"fields_rejected": summary.FieldsRejected,
		"points_appended": summary.PointsAppended,
		"errors":          summary.Errors,
		"duration_ms":     summary.Duration.Milliseconds(),
	})
}

// buildAdapter 从请求与配置拼装来源适配器。
func (a *API) buildAdapter(payload importPayload) (service.SourceAdapter, error) {
	switch payload.Source {
	case service.SourceScaleCSV:
		if payload.Path == "" {
			return nil, fmt.Errorf("path is required for %s", payload.Source)
		}
		return service.NewScaleCSVAdapter(payload.Path, time.Local), nil

	case service.SourceVendorExport:
		if payload.Path == "" {
			return nil, fmt.Errorf("path is required for %s", payload.Source)
		}
		return service.NewVendorArchiveAdapter(payload.Path, time.Local).
			WithTempDir(a.cfg.ImportTmpDir), nil

	case service.SourceVendorAPI:
		if a.cfg.VendorAPIBaseURL == "" {
			return nil, fmt.Errorf("vendor api base url is not configured")
		}
		client := service.NewVendorAPIClient(a.cfg.VendorAPIBaseURL, time.Local)
		client.SetToken(a.cfg.VendorAPIToken)
		client.SetCredentials(a.cfg.VendorAPIUser, a.cfg.VendorAPIPass)

		since := time.Now().AddDate(0, 0, -defaultImportSinceDays)
		if payload.Since != "" {
			parsed, err := time.ParseInLocation(dateFormat, payload.Since, time.Local)
			if err != nil {
				return nil, fmt.Errorf("invalid since date")
			}
			since = parsed
		}
		return service.NewVendorAPIAdapter(client, since), nil

	case service.SourceDriveBackup:
		if a.drive == nil {
			return nil, fmt.Errorf("drive client is not configured")
		}
		return service.NewDriveBackupAdapter(a.drive, a.cfg.DriveFolderID, time.Local), nil

	default:
		return nil, fmt.Errorf("unknown source %q", payload.Source)
	}
}
