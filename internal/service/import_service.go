package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/healthlog/internal/db"
	"github.com/healthlog/internal/telemetry"
)

// sleepAttributionCutoffHour 是睡眠夜归属规则的本地时刻分界：
// 本地开始时间 ≥18:00 的睡眠段记到次日，否则记到当日（区分午睡与整夜睡眠）。
const sleepAttributionCutoffHour = 18

// ExtractedRecord 是适配器提取出的一条原始记录及其伴随的细粒度数据点。
type ExtractedRecord struct {
	Raw    RawRecord
	Points []db.DataPoint
}

// Extraction 汇总一次来源抽取的产物与过程信息。
// FileErrors 收集单文件/单记录级的非致命错误，导入不会因此中断。
type Extraction struct {
	Records        []ExtractedRecord
	FilesProcessed int
	FileErrors     []string
}

// SourceAdapter 是各来源适配器的共享契约。
// Extract 负责解析来源格式并完成每条记录的本地自然日归属。
type SourceAdapter interface {
	Name() string
	Extract(ctx context.Context, userID uint) (*Extraction, error)
}

// ImportSummary 汇报一次导入运行的部分成功结果。
type ImportSummary struct {
	RunID          string
	Source         string
	FilesProcessed int
	RecordsFound   int
	RecordsMerged  int
	FieldsApplied  int
	FieldsRejected int
	PointsAppended int
	Errors         []string
	StartedAt      time.Time
	Duration       time.Duration
}

// ImportService 驱动 来源 → 映射 → 仲裁 → 存储 的导入管线。
// 管线内部顺序执行；多个适配器可并发运行，原子性由 DayStore 保证。
type ImportService struct {
	mapper  *FieldMapper
	store   *DayStore
	metrics telemetry.Recorder
}

// NewImportService 构造 ImportService。
func NewImportService(mapper *FieldMapper, store *DayStore) *ImportService {
	return &ImportService{
		mapper:  mapper,
		store:   store,
		metrics: telemetry.NopRecorder{},
	}
}

// WithRecorder 接入遥测记录器。
func (s *ImportService) WithRecorder(r telemetry.Recorder) *ImportService {
	if r != nil {
		s.metrics = r
	}
	return s
}

// Run 执行一次适配器导入。
// 单条记录的解析/合并失败只记入错误列表；抽取层失败中止本次运行
// 并原样返回（重试属于调用方的职责）。
func (s *ImportService) Run(ctx context.Context, adapter SourceAdapter, userID uint) (*ImportSummary, error) {
	summary := &ImportSummary{
		RunID:     uuid.NewString(),
		Source:    adapter.Name(),
		StartedAt: time.Now(),
	}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		s.metrics.RecordImportLatency(summary.Duration)
	}()

	extraction, err := adapter.Extract(ctx, userID)
	if err != nil {
		s.metrics.RecordImportError(adapter.Name())
		return summary, fmt.Errorf("extract %s: %w", adapter.Name(), err)
	}

	summary.FilesProcessed = extraction.FilesProcessed
	summary.Errors = append(summary.Errors, extraction.FileErrors...)
	summary.RecordsFound = len(extraction.Records)
	for range extraction.FileErrors {
		s.metrics.RecordImportError(adapter.Name())
	}

	for _, extracted := range extraction.Records {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, ctx.Err().Error())
			break
		}

		partial, warnings, err := s.mapper.Normalize(extracted.Raw)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
			s.metrics.RecordImportError(adapter.Name())
			logImportSnippet(adapter.Name(), "normalize", err.Error())
			continue
		}
		for _, w := range warnings {
			logUnitRepair(extracted.Raw.UserID, partialDate(partial, extracted.Raw), w)
			s.metrics.RecordUnitRepair(w.Field)
		}

		if partial != nil {
			outcome, err := s.store.Upsert(partial, UpsertMeta{
				Source:     extracted.Raw.Source,
				MeasuredAt: measuredAtOf(extracted.Raw),
			})
			switch {
			case errors.Is(err, ErrRecordLocked):
				// 锁定拒绝对批次非致命，outcome 中已有逐字段原因
				summary.FieldsRejected += len(outcome.Rejected)
			case err != nil:
				summary.Errors = append(summary.Errors, err.Error())
				s.metrics.RecordImportError(adapter.Name())
				continue
			default:
				summary.RecordsMerged++
				summary.FieldsApplied += outcome.Applied
				summary.FieldsRejected += len(outcome.Rejected)
			}
		}

		for _, point := range extracted.Points {
			inserted, err := s.store.AppendDataPoint(point)
			if err != nil {
				summary.Errors = append(summary.Errors, err.Error())
				s.metrics.RecordImportError(adapter.Name())
				continue
			}
			if inserted {
				summary.PointsAppended++
			}
		}
	}

	s.metrics.RecordImported(adapter.Name(), summary.RecordsMerged)
	log.Printf("[IMPORT %s] run=%s files=%d records=%d merged=%d fields=%d rejected=%d points=%d errors=%d",
		summary.Source, summary.RunID, summary.FilesProcessed, summary.RecordsFound,
		summary.RecordsMerged, summary.FieldsApplied, summary.FieldsRejected,
		summary.PointsAppended, len(summary.Errors))
	return summary, nil
}

// sleepCalendarDay 应用睡眠夜归属规则：
// 先转换到用户本地民用时间，再按 18:00 分界决定归属自然日。
func sleepCalendarDay(start time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := start.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if local.Hour() >= sleepAttributionCutoffHour {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func partialDate(partial *db.DayRecord, raw RawRecord) time.Time {
	if partial != nil {
		return partial.Date
	}
	return raw.MeasuredAt
}

func measuredAtOf(raw RawRecord) time.Time {
	if !raw.MeasuredAt.IsZero() {
		return raw.MeasuredAt
	}
	return time.Now()
}
