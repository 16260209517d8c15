package db

import (
	"time"

	"gorm.io/gorm"
)

// ManualEntry 保存用户手工录入的当日覆盖值。
// 手工值的优先级始终高于设备/计算值；UserID + EntryDate 唯一。
type ManualEntry struct {
	gorm.Model
	UserID           uint      `gorm:"index;index:idx_manual_entry_unique,unique"`
	EntryDate        time.Time `gorm:"index:idx_manual_entry_unique,unique"`
	RestingHeartRate *int
	HRV              *float64
	Calories         *int
}

// TableName 固定表名。
func (ManualEntry) TableName() string {
	return "manual_entries"
}
