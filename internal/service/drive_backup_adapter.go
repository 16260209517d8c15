package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/healthlog/internal/db"
)

// ErrDriveFolderMissing 在未配置备份目录时返回
var ErrDriveFolderMissing = errors.New("drive folder id is required")

// defaultMaxDriveFileBytes 限制单个备份文件的下载大小。
const defaultMaxDriveFileBytes = 64 << 20

// 备份文件名模式：逐日汇总与心率样本导出。
var (
	driveSummaryPattern   = regexp.MustCompile(`^health_summary_(\d{4}-\d{2}-\d{2})\.json$`)
	driveHeartRatePattern = regexp.MustCompile(`^heart_rate_(\d{4}-\d{2}-\d{2})\.json$`)
)

// DriveFile 描述云盘协作方列出的一个文件。
type DriveFile struct {
	ID         string
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// DriveClient 是云盘协作方的接口。
// Upload 由范围外的备份调度器使用，这里保留以对齐协作方契约。
type DriveClient interface {
	ListFiles(ctx context.Context, folderID string) ([]DriveFile, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Upload(ctx context.Context, folderID, name string, data []byte) (string, error)
}

// driveHeartRateFile 是心率样本导出文件的结构。
type driveHeartRateFile struct {
	Samples []struct {
		Timestamp int64   `json:"timestamp"`
		BPM       float64 `json:"bpm"`
	} `json:"samples"`
}

// DriveBackupAdapter 从云盘备份目录拉取按命名模式匹配的文件。
// 单文件失败只计入错误列表，导入继续。
type DriveBackupAdapter struct {
	client       DriveClient
	folderID     string
	loc          *time.Location
	maxFileBytes int64
}

// NewDriveBackupAdapter 构造云盘备份适配器。loc 为空时使用 time.Local。
func NewDriveBackupAdapter(client DriveClient, folderID string, loc *time.Location) *DriveBackupAdapter {
	if loc == nil {
		loc = time.Local
	}
	return &DriveBackupAdapter{
		client:       client,
		folderID:     folderID,
		loc:          loc,
		maxFileBytes: defaultMaxDriveFileBytes,
	}
}

// Name 返回来源标识。
func (a *DriveBackupAdapter) Name() string {
	return SourceDriveBackup
}

// Extract 列出目录并下载匹配的备份文件。
func (a *DriveBackupAdapter) Extract(ctx context.Context, userID uint) (*Extraction, error) {
	if a.folderID == "" {
		return nil, ErrDriveFolderMissing
	}

	files, err := a.client.ListFiles(ctx, a.folderID)
	if err != nil {
		return nil, fmt.Errorf("list drive files: %w", err)
	}

	extraction := &Extraction{}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			extraction.FileErrors = append(extraction.FileErrors, err.Error())
			break
		}

		switch {
		case driveSummaryPattern.MatchString(file.Name):
			a.processSummaryFile(ctx, file, userID, extraction)
		case driveHeartRatePattern.MatchString(file.Name):
			a.processHeartRateFile(ctx, file, userID, extraction)
		default:
			// 不认识的文件（如调度器上传的归档）直接跳过
			continue
		}
	}

	return extraction, nil
}

// processSummaryFile 解析逐日汇总 JSON：顶层键即来源字段名，整体交给映射器。
func (a *DriveBackupAdapter) processSummaryFile(ctx context.Context, file DriveFile, userID uint, out *Extraction) {
	data, ok := a.download(ctx, file, out)
	if !ok {
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("%s: %v", file.Name, err))
		return
	}

	if _, present := fields["date"]; !present {
		// 文件名里的日期作为回退
		fields["date"] = driveSummaryPattern.FindStringSubmatch(file.Name)[1]
	}

	out.Records = append(out.Records, ExtractedRecord{
		Raw: RawRecord{
			Source:     SourceDriveBackup,
			UserID:     userID,
			Fields:     fields,
			MeasuredAt: file.ModifiedAt,
		},
	})
}

// processHeartRateFile 解析心率样本导出，仅产出数据点。
func (a *DriveBackupAdapter) processHeartRateFile(ctx context.Context, file DriveFile, userID uint, out *Extraction) {
	data, ok := a.download(ctx, file, out)
	if !ok {
		return
	}

	var parsed driveHeartRateFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("%s: %v", file.Name, err))
		return
	}

	day := driveHeartRatePattern.FindStringSubmatch(file.Name)[1]
	points := make([]db.DataPoint, 0, len(parsed.Samples))
	for _, sample := range parsed.Samples {
		points = append(points, db.DataPoint{
			UserID:    userID,
			DataType:  "heart_rate",
			StartTime: time.UnixMilli(sample.Timestamp),
			Value:     sample.BPM,
			Unit:      "bpm",
			SourceApp: SourceDriveBackup,
		})
	}

	out.Records = append(out.Records, ExtractedRecord{
		Raw: RawRecord{
			Source:     SourceDriveBackup,
			UserID:     userID,
			Fields:     map[string]any{"date": day},
			MeasuredAt: file.ModifiedAt,
		},
		Points: points,
	})
}

func (a *DriveBackupAdapter) download(ctx context.Context, file DriveFile, out *Extraction) ([]byte, bool) {
	if file.Size > a.maxFileBytes {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("%s: file too large (%d bytes)", file.Name, file.Size))
		return nil, false
	}

	data, err := a.client.Download(ctx, file.ID)
	if err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("%s: %v", file.Name, err))
		return nil, false
	}

	out.FilesProcessed++
	return data, true
}
