package db

import (
	"time"

	"gorm.io/gorm"
)

// DataLock 是每用户单例的锁定状态。
// 启用后，Date ≤ LockDate 的 DayRecord 不接受任何来源的覆盖；
// 解锁必须显式执行并留下日志。
type DataLock struct {
	gorm.Model
	UserID   uint `gorm:"uniqueIndex"`
	Enabled  bool
	LockDate *time.Time
}

// TableName 固定表名。
func (DataLock) TableName() string {
	return "data_locks"
}

// Covers 判断给定日期是否处于锁定范围内。
func (l *DataLock) Covers(date time.Time) bool {
	if l == nil || !l.Enabled || l.LockDate == nil {
		return false
	}
	return !date.After(*l.LockDate)
}
