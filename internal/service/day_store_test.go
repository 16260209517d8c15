package service

import (
	"errors"
	"testing"
	"time"

	"github.com/healthlog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStoreTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.DayRecord{}, &db.DataPoint{}, &db.DataLock{}, &db.ManualEntry{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return gdb, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestDayStoreUpsertMergesWithoutTouchingOtherFields(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	outcome, err := store.Upsert(&db.DayRecord{
		UserID: 1, Date: day,
		Weight:  fptr(70.5),
		BodyFat: fptr(21.3),
	}, UpsertMeta{Source: SourceScaleCSV, MeasuredAt: t1})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if outcome.Applied != 2 {
		t.Fatalf("expected 2 applied fields, got %d", outcome.Applied)
	}

	// 第二个来源只带步数，绝不触碰已存的体重/体脂
	_, err = store.Upsert(&db.DayRecord{
		UserID: 1, Date: day,
		Steps: iptr(8000),
	}, UpsertMeta{Source: SourceVendorAPI, MeasuredAt: t1.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	record, err := store.GetForDate(1, day)
	if err != nil {
		t.Fatalf("GetForDate returned error: %v", err)
	}
	if record.Weight == nil || *record.Weight != 70.5 {
		t.Fatalf("expected weight preserved, got %v", record.Weight)
	}
	if record.Steps == nil || *record.Steps != 8000 {
		t.Fatalf("expected steps merged, got %v", record.Steps)
	}

	// 每个字段的溯源独立记录
	if record.FieldSources["weight"].Source != SourceScaleCSV {
		t.Fatalf("unexpected weight source: %+v", record.FieldSources["weight"])
	}
	if record.FieldSources["steps"].Source != SourceVendorAPI {
		t.Fatalf("unexpected steps source: %+v", record.FieldSources["steps"])
	}
}

func TestDayStoreUpsertArbitratesPerField(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(70.0)},
		UpsertMeta{Source: SourceVendorAPI, MeasuredAt: t1}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	// 更新但低优先级的来源被拒
	outcome, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(71.0)},
		UpsertMeta{Source: SourceScaleCSV, MeasuredAt: t1.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if outcome.Applied != 0 || outcome.Rejected["weight"] != ReasonLowerPriority {
		t.Fatalf("expected lower_priority rejection, got %+v", outcome)
	}

	// 更旧但高优先级的手工值获胜
	outcome, err = store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(69.5)},
		UpsertMeta{Source: SourceManual, MeasuredAt: t1.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if outcome.Applied != 1 {
		t.Fatalf("expected manual overwrite, got %+v", outcome)
	}

	// 同来源重放（相同测量时间）是幂等空操作
	outcome, err = store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(69.5)},
		UpsertMeta{Source: SourceManual, MeasuredAt: t1.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if outcome.Applied != 0 || outcome.Rejected["weight"] != ReasonTieKeep {
		t.Fatalf("expected tie_keep rejection, got %+v", outcome)
	}

	record, err := store.GetForDate(1, day)
	if err != nil {
		t.Fatalf("GetForDate returned error: %v", err)
	}
	if record.Weight == nil || *record.Weight != 69.5 {
		t.Fatalf("expected manual weight 69.5, got %v", record.Weight)
	}
}

func TestDayStoreUpsertRespectsLock(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	lockDate := day

	if err := gdb.Create(&db.DataLock{UserID: 1, Enabled: true, LockDate: &lockDate}).Error; err != nil {
		t.Fatalf("failed to seed lock: %v", err)
	}

	outcome, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(70.0)},
		UpsertMeta{Source: SourceManual, MeasuredAt: time.Now()})
	if !errors.Is(err, ErrRecordLocked) {
		t.Fatalf("expected ErrRecordLocked, got %v", err)
	}
	if outcome.Rejected["weight"] != ReasonLocked {
		t.Fatalf("expected locked rejection, got %+v", outcome)
	}

	// 锁定日期之后的写入不受影响
	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day.AddDate(0, 0, 1), Weight: fptr(70.0)},
		UpsertMeta{Source: SourceManual, MeasuredAt: time.Now()}); err != nil {
		t.Fatalf("expected write after lock date to succeed: %v", err)
	}
}

func TestDayStoreUpsertEmptyPartial(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(nil, UpsertMeta{Source: SourceManual}); !errors.Is(err, ErrEmptyPartial) {
		t.Fatalf("expected ErrEmptyPartial for nil, got %v", err)
	}
	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day}, UpsertMeta{Source: SourceManual}); !errors.Is(err, ErrEmptyPartial) {
		t.Fatalf("expected ErrEmptyPartial for fieldless record, got %v", err)
	}
}

func TestDayStoreGetWithFallback(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	// 5 天前：体重；2 天前：步数（非慢变化字段）；1 天后：体脂（不得回填）
	seeds := []db.DayRecord{
		{UserID: 1, Date: day.AddDate(0, 0, -5), Weight: fptr(70.5)},
		{UserID: 1, Date: day.AddDate(0, 0, -2), Steps: iptr(9000)},
		{UserID: 1, Date: day.AddDate(0, 0, 1), BodyFat: fptr(22.0)},
	}
	for i := range seeds {
		if err := gdb.Create(&seeds[i]).Error; err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}
	}

	record, err := store.GetWithFallback(1, day)
	if err != nil {
		t.Fatalf("GetWithFallback returned error: %v", err)
	}
	if record.Weight == nil || *record.Weight != 70.5 {
		t.Fatalf("expected weight backfilled from history, got %v", record.Weight)
	}
	if record.BodyFat != nil {
		t.Fatal("future records must never be used for fallback")
	}
	if record.Steps != nil {
		t.Fatal("fast-changing fields must not be backfilled")
	}

	// 回填结果不写回存储
	if _, err := store.GetForDate(1, day); !errors.Is(err, ErrDayRecordNotFound) {
		t.Fatalf("expected fallback to stay transient, got %v", err)
	}
}

func TestDayStoreGetWithFallbackNoHistory(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := store.GetWithFallback(1, day); !errors.Is(err, ErrDayRecordNotFound) {
		t.Fatalf("expected ErrDayRecordNotFound, got %v", err)
	}

	// 超过 365 天的历史不参与回填
	old := db.DayRecord{UserID: 1, Date: day.AddDate(0, 0, -(fallbackLookbackDays + 10)), Weight: fptr(68.0)}
	if err := gdb.Create(&old).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	if _, err := store.GetWithFallback(1, day); !errors.Is(err, ErrDayRecordNotFound) {
		t.Fatalf("expected out-of-window history to be ignored, got %v", err)
	}
}

func TestDayStoreAppendDataPointIdempotent(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	start := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	point := db.DataPoint{UserID: 1, DataType: "heart_rate", StartTime: start, Value: 58, Unit: "bpm", SourceApp: SourceDriveBackup}

	inserted, err := store.AppendDataPoint(point)
	if err != nil {
		t.Fatalf("AppendDataPoint returned error: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to succeed")
	}

	inserted, err = store.AppendDataPoint(point)
	if err != nil {
		t.Fatalf("AppendDataPoint returned error: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate natural key to be a no-op")
	}

	// 值不同即是新的数据点
	point.Value = 61
	inserted, err = store.AppendDataPoint(point)
	if err != nil {
		t.Fatalf("AppendDataPoint returned error: %v", err)
	}
	if !inserted {
		t.Fatal("expected distinct value to insert")
	}

	points, err := store.DataPointsBetween(1, "heart_rate", start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil {
		t.Fatalf("DataPointsBetween returned error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
}

func TestDayStoreDeleteForDateAllowsReimport(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(70.0)},
		UpsertMeta{Source: SourceScaleCSV, MeasuredAt: time.Now()}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	if err := store.DeleteForDate(1, day); err != nil {
		t.Fatalf("DeleteForDate returned error: %v", err)
	}
	if _, err := store.GetForDate(1, day); !errors.Is(err, ErrDayRecordNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}

	// 硬删除后同一自然键可重新导入
	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(71.0)},
		UpsertMeta{Source: SourceScaleCSV, MeasuredAt: time.Now()}); err != nil {
		t.Fatalf("expected re-import after delete to succeed: %v", err)
	}
}

func TestDayStoreWipeAllPreservesManualHeartRate(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(70.0)},
		UpsertMeta{Source: SourceScaleCSV, MeasuredAt: start}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	seedPoints := []db.DataPoint{
		{UserID: 1, DataType: "heart_rate", StartTime: start, Value: 58, SourceApp: SourceManual},
		{UserID: 1, DataType: "heart_rate", StartTime: start.Add(time.Minute), Value: 60, SourceApp: SourceDriveBackup},
		{UserID: 1, DataType: "steps", StartTime: start, Value: 4000, SourceApp: SourceVendorExport},
	}
	for _, p := range seedPoints {
		if _, err := store.AppendDataPoint(p); err != nil {
			t.Fatalf("AppendDataPoint returned error: %v", err)
		}
	}
	entry := db.ManualEntry{UserID: 1, EntryDate: day, RestingHeartRate: iptr(55), HRV: fptr(80), Calories: iptr(500)}
	if err := gdb.Create(&entry).Error; err != nil {
		t.Fatalf("failed to seed manual entry: %v", err)
	}

	summary, err := store.WipeAll(1, true)
	if err != nil {
		t.Fatalf("WipeAll returned error: %v", err)
	}
	if summary.TablesCleared != 3 {
		t.Fatalf("expected 3 tables cleared, got %d", summary.TablesCleared)
	}

	var points []db.DataPoint
	if err := gdb.Where("user_id = ?", 1).Find(&points).Error; err != nil {
		t.Fatalf("failed to list points: %v", err)
	}
	if len(points) != 1 || points[0].SourceApp != SourceManual || points[0].DataType != "heart_rate" {
		t.Fatalf("expected only manual heart rate point to survive, got %+v", points)
	}

	var kept db.ManualEntry
	if err := gdb.Where("user_id = ?", 1).First(&kept).Error; err != nil {
		t.Fatalf("expected manual entry to survive: %v", err)
	}
	if kept.RestingHeartRate == nil || *kept.RestingHeartRate != 55 {
		t.Fatalf("expected resting heart rate preserved, got %v", kept.RestingHeartRate)
	}
	if kept.HRV != nil || kept.Calories != nil {
		t.Fatalf("expected hrv/calories cleared, got %+v", kept)
	}

	var records int64
	gdb.Model(&db.DayRecord{}).Where("user_id = ?", 1).Count(&records)
	if records != 0 {
		t.Fatalf("expected day records wiped, got %d", records)
	}
}

func TestDayStoreWipeAllEverything(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(&db.DayRecord{UserID: 1, Date: day, Weight: fptr(70.0)},
		UpsertMeta{Source: SourceScaleCSV, MeasuredAt: time.Now()}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if _, err := store.AppendDataPoint(db.DataPoint{UserID: 1, DataType: "heart_rate", StartTime: day, Value: 58, SourceApp: SourceManual}); err != nil {
		t.Fatalf("AppendDataPoint returned error: %v", err)
	}
	if err := gdb.Create(&db.ManualEntry{UserID: 1, EntryDate: day, RestingHeartRate: iptr(55)}).Error; err != nil {
		t.Fatalf("failed to seed manual entry: %v", err)
	}

	summary, err := store.WipeAll(1, false)
	if err != nil {
		t.Fatalf("WipeAll returned error: %v", err)
	}
	if summary.RecordsDeleted != 3 {
		t.Fatalf("expected 3 rows deleted, got %d", summary.RecordsDeleted)
	}

	var points, entries int64
	gdb.Model(&db.DataPoint{}).Where("user_id = ?", 1).Count(&points)
	gdb.Model(&db.ManualEntry{}).Where("user_id = ?", 1).Count(&entries)
	if points != 0 || entries != 0 {
		t.Fatalf("expected everything wiped, points=%d entries=%d", points, entries)
	}
}
