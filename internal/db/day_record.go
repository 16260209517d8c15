package db

import (
	"time"

	"gorm.io/gorm"
)

// FieldSource 记录单个字段的写入来源与测量时间，供新鲜度仲裁比较。
type FieldSource struct {
	Source     string    `json:"source"`
	MeasuredAt time.Time `json:"measured_at"`
}

// DayRecord 是每个用户每个自然日的规范化健康汇总。
// Date 使用用户本地时区的自然日（零点），与 UserID 组成唯一键。
// 所有指标字段均为指针：nil 表示"未知"，与零值严格区分。
// 任何写入都是部分合并，缺失字段不会覆盖已知值。
type DayRecord struct {
	gorm.Model
	UserID uint      `gorm:"index;index:idx_day_record_unique,unique"`
	Date   time.Time `gorm:"index:idx_day_record_unique,unique"`

	// 睡眠
	SleepScore           *int
	SleepDurationMinutes *int
	DeepSleepMinutes     *int
	RemSleepMinutes      *int
	LightSleepMinutes    *int
	SleepEfficiency      *float64
	WakeEvents           *int
	SleepDebtMinutes     *int

	// 心肺 / 恢复
	RecoveryScore          *int
	StrainScore            *float64
	ReadinessScore         *int
	StressLevel            *int
	RestingHeartRate       *int
	HRV                    *float64
	BloodPressureSystolic  *int
	BloodPressureDiastolic *int
	OxygenSaturation       *float64
	RespiratoryRate        *float64

	// 身体成分 / 活动
	Weight          *float64
	BodyFat         *float64
	MuscleMass      *float64
	BMI             *float64
	BMR             *int
	VisceralFat     *float64
	BodyWaterPct    *float64
	BonePct         *float64
	ProteinPct      *float64
	LeanBodyMass    *float64
	BodyScore       *int
	BodyType        *string
	Steps           *int
	DistanceMeters  *float64
	CaloriesBurned  *int
	ActivityRingPct *float64
	MetabolicAge    *int
	FitnessAge      *int
	VO2Max          *float64
	CycleDay        *int
	CyclePhase      *string

	// FieldSources 以 JSON 形式保存每个字段的来源/测量时间
	FieldSources map[string]FieldSource `gorm:"serializer:json"`
}

// TableName 固定表名，避免复数化差异。
func (DayRecord) TableName() string {
	return "day_records"
}
