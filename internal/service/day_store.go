package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/healthlog/internal/db"
	"github.com/healthlog/internal/telemetry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDayRecordNotFound 在指定日期没有记录时返回
	ErrDayRecordNotFound = errors.New("day record not found")
	// ErrRecordLocked 在候选写入全部被锁定策略拒绝时返回
	ErrRecordLocked = errors.New("day record is locked")
	// ErrEmptyPartial 在部分记录不含任何可写字段时返回
	ErrEmptyPartial = errors.New("partial record has no fields")
)

// fallbackLookbackDays 是慢变化字段历史回填的最大回看天数。
const fallbackLookbackDays = 365

// UpsertMeta 描述一次合并写入的来源与测量时间。
type UpsertMeta struct {
	Source     string
	MeasuredAt time.Time
}

// UpsertOutcome 汇总一次合并写入的结果。
// Rejected 按字段名记录拒绝原因，供导入汇总与测试断言。
type UpsertOutcome struct {
	Record   *db.DayRecord
	Applied  int
	Rejected map[string]string
}

// DayStore 持有规范化日记录与细粒度数据点。
// 每个 (userID, date) 的合并写入是一个原子临界区：
// 进程内按键互斥 + 数据库事务，避免并发导入丢失更新。
type DayStore struct {
	db       *gorm.DB
	arbiter  *FreshnessArbiter
	metrics  telemetry.Recorder
	dayLocks sync.Map // "userID:date" -> *sync.Mutex
}

// NewDayStore 构造 DayStore。
func NewDayStore(gdb *gorm.DB, arbiter *FreshnessArbiter) *DayStore {
	if arbiter == nil {
		arbiter = NewFreshnessArbiter()
	}
	return &DayStore{
		db:      gdb,
		arbiter: arbiter,
		metrics: telemetry.NopRecorder{},
	}
}

// WithRecorder 接入遥测记录器。
func (s *DayStore) WithRecorder(r telemetry.Recorder) *DayStore {
	if r != nil {
		s.metrics = r
	}
	return s
}

// Upsert 将 partial 中已设置的字段合并进 (userID, date) 的记录。
// 每个字段单独经过仲裁；缺失字段绝不触碰已存值。
func (s *DayStore) Upsert(partial *db.DayRecord, meta UpsertMeta) (*UpsertOutcome, error) {
	if partial == nil {
		return nil, ErrEmptyPartial
	}

	date := civilDay(partial.Date, partial.Date.Location())
	mu := s.lockFor(partial.UserID, date)
	mu.Lock()
	defer mu.Unlock()

	lock, err := s.lockState(partial.UserID)
	if err != nil {
		return nil, fmt.Errorf("load lock state: %w", err)
	}

	measuredAt := meta.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = time.Now()
	}
	candidate := db.FieldSource{Source: meta.Source, MeasuredAt: measuredAt}

	outcome := &UpsertOutcome{Rejected: make(map[string]string)}
	lockedRejections := 0
	presentFields := 0

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var record db.DayRecord
		findErr := tx.Where("user_id = ? AND date = ?", partial.UserID, date).First(&record).Error
		created := false
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			record = db.DayRecord{UserID: partial.UserID, Date: date}
			created = true
		case findErr != nil:
			return findErr
		}

		if record.FieldSources == nil {
			record.FieldSources = make(map[string]db.FieldSource)
		}

		for i := range canonicalFields {
			spec := &canonicalFields[i]
			if !spec.present(partial) {
				continue
			}
			presentFields++

			var existing *db.FieldSource
			if spec.present(&record) {
				if src, ok := record.FieldSources[spec.name]; ok {
					copySrc := src
					existing = &copySrc
				} else {
					// 历史数据缺少溯源信息时按未知来源参与仲裁
					existing = &db.FieldSource{}
				}
			}

			decision := s.arbiter.Decide(existing, candidate, date, lock)
			logMergeDecision(partial.UserID, date, spec.name, meta.Source, decision.Reason, decision.Overwrite)
			s.metrics.RecordMergeDecision(decision.Reason)

			if !decision.Overwrite {
				outcome.Rejected[spec.name] = decision.Reason
				if decision.Reason == ReasonLocked {
					lockedRejections++
				}
				continue
			}

			spec.copyTo(&record, partial)
			record.FieldSources[spec.name] = candidate
			outcome.Applied++
		}

		if presentFields == 0 {
			return ErrEmptyPartial
		}

		// 记录已存在且没有任何字段通过仲裁时不产生写操作
		if created && outcome.Applied == 0 {
			return nil
		}
		if !created && outcome.Applied == 0 {
			outcome.Record = &record
			return nil
		}

		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("save day record: %w", err)
		}
		outcome.Record = &record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if presentFields > 0 && lockedRejections == presentFields {
		return outcome, ErrRecordLocked
	}
	return outcome, nil
}

// GetForDate 返回指定日期的记录，不做任何回填。
func (s *DayStore) GetForDate(userID uint, date time.Time) (*db.DayRecord, error) {
	var record db.DayRecord
	day := civilDay(date, date.Location())
	if err := s.db.Where("user_id = ? AND date = ?", userID, day).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDayRecordNotFound
		}
		return nil, fmt.Errorf("get day record: %w", err)
	}
	return &record, nil
}

// GetWithFallback 返回指定日期的记录，并对慢变化字段做历史回填：
// 按日期倒序向前最多回看 365 天，每个字段独立取第一个非空值；
// 全部目标字段补齐后提前终止；绝不从晚于请求日期的记录取值。
// 回填值只出现在返回结果中，不写回存储。
func (s *DayStore) GetWithFallback(userID uint, date time.Time) (*db.DayRecord, error) {
	day := civilDay(date, date.Location())

	record, err := s.GetForDate(userID, day)
	existed := true
	if errors.Is(err, ErrDayRecordNotFound) {
		record = &db.DayRecord{UserID: userID, Date: day}
		existed = false
	} else if err != nil {
		return nil, err
	}

	missing := make([]*fieldSpec, 0, len(slowFallbackFields))
	for _, name := range slowFallbackFields {
		spec := fieldSpecByName[name]
		if !spec.present(record) {
			missing = append(missing, spec)
		}
	}

	if len(missing) == 0 {
		return record, nil
	}

	cutoff := day.AddDate(0, 0, -fallbackLookbackDays)
	var history []db.DayRecord
	if err := s.db.Where("user_id = ? AND date < ? AND date >= ?", userID, day, cutoff).
		Order("date DESC").
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("load fallback history: %w", err)
	}

	filled := 0
	for i := range history {
		remaining := missing[:0]
		for _, spec := range missing {
			if spec.present(&history[i]) {
				spec.copyTo(record, &history[i])
				filled++
				continue
			}
			remaining = append(remaining, spec)
		}
		missing = remaining
		if len(missing) == 0 {
			break
		}
	}

	if !existed && filled == 0 {
		return nil, ErrDayRecordNotFound
	}
	return record, nil
}

// ListBetween 返回日期区间内的记录，按日期升序。
func (s *DayStore) ListBetween(userID uint, start, end time.Time) ([]db.DayRecord, error) {
	var records []db.DayRecord
	if err := s.db.Where("user_id = ? AND date BETWEEN ? AND ?",
		userID, civilDay(start, start.Location()), civilDay(end, end.Location())).
		Order("date ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list day records: %w", err)
	}
	return records, nil
}

// AppendDataPoint 以自然键幂等追加数据点，返回是否实际插入。
func (s *DayStore) AppendDataPoint(point db.DataPoint) (bool, error) {
	result := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "data_type"}, {Name: "start_time"}, {Name: "value"},
		},
		DoNothing: true,
	}).Create(&point)
	if result.Error != nil {
		return false, fmt.Errorf("append data point: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// DataPointsBetween 返回指定类型在时间区间内的数据点，按开始时间升序。
func (s *DayStore) DataPointsBetween(userID uint, dataType string, start, end time.Time) ([]db.DataPoint, error) {
	var points []db.DataPoint
	if err := s.db.Where("user_id = ? AND data_type = ? AND start_time BETWEEN ? AND ?",
		userID, dataType, start, end).
		Order("start_time ASC").
		Find(&points).Error; err != nil {
		return nil, fmt.Errorf("list data points: %w", err)
	}
	return points, nil
}

// DeleteForDate 显式删除单日记录，操作本身幂等并留日志。
func (s *DayStore) DeleteForDate(userID uint, date time.Time) error {
	day := civilDay(date, date.Location())
	result := s.db.Unscoped().Where("user_id = ? AND date = ?", userID, day).Delete(&db.DayRecord{})
	if result.Error != nil {
		return fmt.Errorf("delete day record: %w", result.Error)
	}
	log.Printf("[WIPE] user=%d date=%s day records deleted=%d", userID, day.Format("2006-01-02"), result.RowsAffected)
	return nil
}

// WipeSummary 汇报销毁操作实际清除的内容。
type WipeSummary struct {
	TablesCleared  int
	RecordsDeleted int64
}

// WipeAll 删除用户的全部健康数据。
// preserveManualHeartRate 为真时保留手工心率数据点与手工条目中的静息心率。
func (s *DayStore) WipeAll(userID uint, preserveManualHeartRate bool) (*WipeSummary, error) {
	summary := &WipeSummary{}

	// 销毁操作使用硬删除，确保自然键可以被后续导入重新使用
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().Where("user_id = ?", userID).Delete(&db.DayRecord{})
		if result.Error != nil {
			return result.Error
		}
		summary.RecordsDeleted += result.RowsAffected
		summary.TablesCleared++

		pointQuery := tx.Unscoped().Where("user_id = ?", userID)
		if preserveManualHeartRate {
			pointQuery = pointQuery.Where("NOT (data_type = ? AND source_app = ?)", "heart_rate", SourceManual)
		}
		result = pointQuery.Delete(&db.DataPoint{})
		if result.Error != nil {
			return result.Error
		}
		summary.RecordsDeleted += result.RowsAffected
		summary.TablesCleared++

		if preserveManualHeartRate {
			result = tx.Model(&db.ManualEntry{}).Where("user_id = ?", userID).
				Updates(map[string]any{"hrv": nil, "calories": nil})
			if result.Error != nil {
				return result.Error
			}
			result = tx.Unscoped().Where("user_id = ? AND resting_heart_rate IS NULL", userID).Delete(&db.ManualEntry{})
		} else {
			result = tx.Unscoped().Where("user_id = ?", userID).Delete(&db.ManualEntry{})
		}
		if result.Error != nil {
			return result.Error
		}
		summary.RecordsDeleted += result.RowsAffected
		summary.TablesCleared++

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("wipe all data: %w", err)
	}

	log.Printf("[WIPE] user=%d tables=%d records=%d preserve_manual_hr=%t",
		userID, summary.TablesCleared, summary.RecordsDeleted, preserveManualHeartRate)
	return summary, nil
}

// lockFor 返回 (userID, date) 对应的进程内互斥锁。
func (s *DayStore) lockFor(userID uint, date time.Time) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, date.Format("2006-01-02"))
	actual, _ := s.dayLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// lockState 读取用户锁定状态，缺失时视为未启用。
func (s *DayStore) lockState(userID uint) (*db.DataLock, error) {
	var lock db.DataLock
	err := s.db.Where("user_id = ?", userID).First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}
