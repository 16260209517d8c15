package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/healthlog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// rhrSearchMaxDays 是静息心率逐日回找的最大天数
	rhrSearchMaxDays = 30
	// defaultUserAge 在档案缺失年龄时用于派生指标计算
	defaultUserAge = 35
)

// dayCache 是按 (userID, date) 缓存富化结果的显式缓存对象。
// 由单个服务实例持有，新数据到达时定点失效，不存在隐式全局状态。
type dayCache struct {
	mu      sync.RWMutex
	entries map[string]*db.DayRecord
}

func newDayCache() *dayCache {
	return &dayCache{entries: make(map[string]*db.DayRecord)}
}

func cacheKey(userID uint, date time.Time) string {
	return fmt.Sprintf("%d:%s", userID, date.Format("2006-01-02"))
}

func (c *dayCache) get(userID uint, date time.Time) (*db.DayRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.entries[cacheKey(userID, date)]
	return record, ok
}

func (c *dayCache) set(userID uint, date time.Time, record *db.DayRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(userID, date)] = record
}

func (c *dayCache) invalidate(userID uint, date time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(userID, date))
}

func (c *dayCache) invalidateUser(userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := fmt.Sprintf("%d:", userID)
	for key := range c.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// HealthService 是对外协作方（API 层、UI、AI 教练层）的门面：
// 读路径 = 存储 → 历史回填 → 手工覆盖 → 派生指标富化。
type HealthService struct {
	db      *gorm.DB
	store   *DayStore
	calc    *MetricsCalculator
	cache   *dayCache
	userAge int
}

// NewHealthService 构造 HealthService。
func NewHealthService(gdb *gorm.DB, store *DayStore) *HealthService {
	return &HealthService{
		db:      gdb,
		store:   store,
		calc:    NewMetricsCalculator(),
		cache:   newDayCache(),
		userAge: defaultUserAge,
	}
}

// WithUserAge 配置派生指标计算使用的年龄。
func (s *HealthService) WithUserAge(age int) *HealthService {
	if age > 0 {
		s.userAge = age
	}
	return s
}

// GetHealthMetrics 返回指定日期的富化记录。
// 缓存命中直接返回；未命中则走完整读路径并回填缓存。
func (s *HealthService) GetHealthMetrics(userID uint, date time.Time) (*db.DayRecord, error) {
	day := civilDay(date, date.Location())

	if cached, ok := s.cache.get(userID, day); ok {
		return cached, nil
	}

	record, err := s.store.GetWithFallback(userID, day)
	if err != nil {
		return nil, err
	}

	overrides, err := s.manualEntry(userID, day)
	if err != nil {
		return nil, err
	}

	// 当日静息心率未知时按日回找最近值（有界，保证终止）
	if record.RestingHeartRate == nil && (overrides == nil || overrides.RestingHeartRate == nil) {
		record.RestingHeartRate = s.searchRecentRestingHR(userID, day)
	}

	s.calc.Enrich(record, s.userAge, overrides)
	s.cache.set(userID, day, record)
	return record, nil
}

// GetHealthMetricsRange 返回最近 days 天的富化记录，按日期升序，缺日跳过。
func (s *HealthService) GetHealthMetricsRange(userID uint, days int) ([]*db.DayRecord, error) {
	if days <= 0 {
		days = 7
	}

	today := civilDay(time.Now(), time.Local)
	records := make([]*db.DayRecord, 0, days)

	for i := days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		record, err := s.GetHealthMetrics(userID, day)
		if errors.Is(err, ErrDayRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// UpsertHealthMetrics 以手工来源合并写入，并使缓存失效。
func (s *HealthService) UpsertHealthMetrics(partial *db.DayRecord) (*db.DayRecord, error) {
	outcome, err := s.store.Upsert(partial, UpsertMeta{
		Source:     SourceManual,
		MeasuredAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate(partial.UserID, civilDay(partial.Date, partial.Date.Location()))
	return outcome.Record, nil
}

// UpsertManualEntry 写入/更新当日手工覆盖值（静息心率、HRV、卡路里）。
func (s *HealthService) UpsertManualEntry(userID uint, date time.Time, rhr *int, hrv *float64, calories *int) (*db.ManualEntry, error) {
	day := civilDay(date, date.Location())
	entry := db.ManualEntry{
		UserID:           userID,
		EntryDate:        day,
		RestingHeartRate: rhr,
		HRV:              hrv,
		Calories:         calories,
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "entry_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"resting_heart_rate", "hrv", "calories", "updated_at"}),
	}).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("upsert manual entry: %w", err)
	}

	if err := s.db.Where("user_id = ? AND entry_date = ?", userID, day).First(&entry).Error; err != nil {
		return nil, fmt.Errorf("reload manual entry: %w", err)
	}

	s.cache.invalidate(userID, day)
	return &entry, nil
}

// GetHealthDataPoints 返回指定类型与时间区间的数据点。
func (s *HealthService) GetHealthDataPoints(userID uint, dataType string, start, end time.Time) ([]db.DataPoint, error) {
	return s.store.DataPointsBetween(userID, dataType, start, end)
}

// SetDataLock 启用锁定：lockDate 及更早的记录将拒绝一切覆盖。
func (s *HealthService) SetDataLock(userID uint, lockDate time.Time) (*db.DataLock, error) {
	day := civilDay(lockDate, lockDate.Location())
	lock := db.DataLock{UserID: userID, Enabled: true, LockDate: &day}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "lock_date", "updated_at"}),
	}).Create(&lock).Error; err != nil {
		return nil, fmt.Errorf("set data lock: %w", err)
	}

	log.Printf("[LOCK] user=%d enabled lock_date=%s", userID, day.Format("2006-01-02"))
	s.cache.invalidateUser(userID)
	return &lock, nil
}

// UnlockAllData 显式解除锁定，操作留痕。
func (s *HealthService) UnlockAllData(userID uint) error {
	result := s.db.Model(&db.DataLock{}).Where("user_id = ?", userID).
		Updates(map[string]any{"enabled": false})
	if result.Error != nil {
		return fmt.Errorf("unlock data: %w", result.Error)
	}

	log.Printf("[LOCK] user=%d unlocked (rows=%d)", userID, result.RowsAffected)
	return nil
}

// GetDataLockStatus 返回锁定状态，从未设置时返回未启用的空状态。
func (s *HealthService) GetDataLockStatus(userID uint) (*db.DataLock, error) {
	var lock db.DataLock
	err := s.db.Where("user_id = ?", userID).First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &db.DataLock{UserID: userID, Enabled: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock status: %w", err)
	}
	return &lock, nil
}

// WipeAllData 删除用户全部健康数据并汇报清除结果。
func (s *HealthService) WipeAllData(userID uint, preserveManualHeartRate bool) (*WipeSummary, error) {
	summary, err := s.store.WipeAll(userID, preserveManualHeartRate)
	if err != nil {
		return nil, err
	}

	s.cache.invalidateUser(userID)
	return summary, nil
}

// InvalidateCache 供导入完成后由调用方主动失效缓存。
func (s *HealthService) InvalidateCache(userID uint) {
	s.cache.invalidateUser(userID)
}

// manualEntry 读取当日手工覆盖，缺失时返回 nil。
func (s *HealthService) manualEntry(userID uint, day time.Time) (*db.ManualEntry, error) {
	var entry db.ManualEntry
	err := s.db.Where("user_id = ? AND entry_date = ?", userID, day).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manual entry: %w", err)
	}
	return &entry, nil
}

// searchRecentRestingHR 逐日向前回找最近的静息心率，最多 30 天。
func (s *HealthService) searchRecentRestingHR(userID uint, day time.Time) *int {
	for i := 1; i <= rhrSearchMaxDays; i++ {
		record, err := s.store.GetForDate(userID, day.AddDate(0, 0, -i))
		if errors.Is(err, ErrDayRecordNotFound) {
			continue
		}
		if err != nil {
			return nil
		}
		if record.RestingHeartRate != nil {
			return record.RestingHeartRate
		}
	}
	return nil
}
