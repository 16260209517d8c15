package db

import (
	"time"

	"gorm.io/gorm"
)

// DataPoint 是不可变的细粒度测量点，用于审计、重算聚合值与日内查询。
// UserID + DataType + StartTime + Value 组成自然键，重复写入是幂等空操作。
type DataPoint struct {
	gorm.Model
	UserID    uint      `gorm:"index;index:idx_data_point_natural,unique"`
	DataType  string    `gorm:"index;index:idx_data_point_natural,unique"`
	StartTime time.Time `gorm:"index:idx_data_point_natural,unique"`
	EndTime   *time.Time
	Value     float64 `gorm:"index:idx_data_point_natural,unique"`
	Unit      string
	Metadata  string
	SourceApp string
	DeviceID  string
}

// TableName 固定表名。
func (DataPoint) TableName() string {
	return "data_points"
}
