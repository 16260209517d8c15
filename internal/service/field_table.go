package service

import (
	"github.com/healthlog/internal/db"
)

// 数据来源标识。作为类型化枚举在映射、仲裁与日志中统一使用。
const (
	SourceManual       = "manual"
	SourceVendorExport = "vendor_export"
	SourceVendorAPI    = "vendor_api"
	SourceDriveBackup  = "drive_backup"
	SourceScaleCSV     = "scale_csv"
)

// fieldKind 描述规范化字段的解析方式。
type fieldKind int

const (
	// fieldFloat 解析为浮点数
	fieldFloat fieldKind = iota
	// fieldInt 解析为浮点后取整（时长、评分、计数类字段）
	fieldInt
	// fieldText 原样拷贝（经过净化）
	fieldText
)

// fieldSpec 定义一个规范化字段：别名按顺序扫描，第一个命中即生效。
// getter/setter 闭包让 map 与 store 能在不依赖反射的情况下
// 对每个字段做存在性检查与拷贝，新增字段时编译器强制补全。
type fieldSpec struct {
	name    string
	kind    fieldKind
	aliases []string

	getF func(*db.DayRecord) *float64
	setF func(*db.DayRecord, *float64)
	getI func(*db.DayRecord) *int
	setI func(*db.DayRecord, *int)
	getT func(*db.DayRecord) *string
	setT func(*db.DayRecord, *string)
}

// present 判断记录中该字段是否已知。
func (f *fieldSpec) present(r *db.DayRecord) bool {
	switch f.kind {
	case fieldFloat:
		return f.getF(r) != nil
	case fieldInt:
		return f.getI(r) != nil
	default:
		return f.getT(r) != nil
	}
}

// copyTo 将 src 中该字段的值拷贝到 dst。
func (f *fieldSpec) copyTo(dst, src *db.DayRecord) {
	switch f.kind {
	case fieldFloat:
		f.setF(dst, f.getF(src))
	case fieldInt:
		f.setI(dst, f.getI(src))
	default:
		f.setT(dst, f.getT(src))
	}
}

// canonicalFields 是全部规范化字段的别名解析表。
// 顺序即扫描顺序；别名覆盖各来源的命名差异与同义词。
var canonicalFields = []fieldSpec{
	// 睡眠
	{
		name: "sleepScore", kind: fieldInt,
		aliases: []string{"sleep_score", "sleepScore", "sleep_quality", "sleepQuality", "score"},
		getI:    func(r *db.DayRecord) *int { return r.SleepScore },
		setI:    func(r *db.DayRecord, v *int) { r.SleepScore = v },
	},
	{
		name: "sleepDurationMinutes", kind: fieldInt,
		aliases: []string{"sleep_duration_minutes", "sleepDurationMinutes", "sleep_duration", "sleepDuration", "total_sleep_minutes", "minutes_asleep", "minutesAsleep"},
		getI:    func(r *db.DayRecord) *int { return r.SleepDurationMinutes },
		setI:    func(r *db.DayRecord, v *int) { r.SleepDurationMinutes = v },
	},
	{
		name: "deepSleepMinutes", kind: fieldInt,
		aliases: []string{"deep_sleep_minutes", "deepSleepMinutes", "deep_sleep", "deepSleep", "deep_minutes"},
		getI:    func(r *db.DayRecord) *int { return r.DeepSleepMinutes },
		setI:    func(r *db.DayRecord, v *int) { r.DeepSleepMinutes = v },
	},
	{
		name: "remSleepMinutes", kind: fieldInt,
		aliases: []string{"rem_sleep_minutes", "remSleepMinutes", "rem_sleep", "remSleep", "rem_minutes"},
		getI:    func(r *db.DayRecord) *int { return r.RemSleepMinutes },
		setI:    func(r *db.DayRecord, v *int) { r.RemSleepMinutes = v },
	},
	{
		name: "lightSleepMinutes", kind: fieldInt,
		aliases: []string{"light_sleep_minutes", "lightSleepMinutes", "light_sleep", "lightSleep", "light_minutes"},
		getI:    func(r *db.DayRecord) *int { return r.LightSleepMinutes },
		setI:    func(r *db.DayRecord, v *int) { r.LightSleepMinutes = v },
	},
	{
		name: "sleepEfficiency", kind: fieldFloat,
		aliases: []string{"sleep_efficiency", "sleepEfficiency", "efficiency"},
		getF:    func(r *db.DayRecord) *float64 { return r.SleepEfficiency },
		setF:    func(r *db.DayRecord, v *float64) { r.SleepEfficiency = v },
	},
	{
		name: "wakeEvents", kind: fieldInt,
		aliases: []string{"wake_events", "wakeEvents", "awakenings", "wake_count", "wakeCount"},
		getI:    func(r *db.DayRecord) *int { return r.WakeEvents },
		setI:    func(r *db.DayRecord, v *int) { r.WakeEvents = v },
	},
	{
		name: "sleepDebtMinutes", kind: fieldInt,
		aliases: []string{"sleep_debt_minutes", "sleepDebtMinutes", "sleep_debt", "sleepDebt"},
		getI:    func(r *db.DayRecord) *int { return r.SleepDebtMinutes },
		setI:    func(r *db.DayRecord, v *int) { r.SleepDebtMinutes = v },
	},

	// 心肺 / 恢复
	{
		name: "recoveryScore", kind: fieldInt,
		aliases: []string{"recovery_score", "recoveryScore", "recovery"},
		getI:    func(r *db.DayRecord) *int { return r.RecoveryScore },
		setI:    func(r *db.DayRecord, v *int) { r.RecoveryScore = v },
	},
	{
		name: "strainScore", kind: fieldFloat,
		aliases: []string{"strain_score", "strainScore", "strain", "day_strain", "dayStrain"},
		getF:    func(r *db.DayRecord) *float64 { return r.StrainScore },
		setF:    func(r *db.DayRecord, v *float64) { r.StrainScore = v },
	},
	{
		name: "readinessScore", kind: fieldInt,
		aliases: []string{"readiness_score", "readinessScore", "readiness"},
		getI:    func(r *db.DayRecord) *int { return r.ReadinessScore },
		setI:    func(r *db.DayRecord, v *int) { r.ReadinessScore = v },
	},
	{
		name: "stressLevel", kind: fieldInt,
		aliases: []string{"stress_level", "stressLevel", "stress", "stress_score", "stressScore"},
		getI:    func(r *db.DayRecord) *int { return r.StressLevel },
		setI:    func(r *db.DayRecord, v *int) { r.StressLevel = v },
	},
	{
		name: "restingHeartRate", kind: fieldInt,
		aliases: []string{"resting_heart_rate", "restingHeartRate", "resting_hr", "restingHr", "rhr"},
		getI:    func(r *db.DayRecord) *int { return r.RestingHeartRate },
		setI:    func(r *db.DayRecord, v *int) { r.RestingHeartRate = v },
	},
	{
		name: "hrv", kind: fieldFloat,
		aliases: []string{"hrv", "heart_rate_variability", "heartRateVariability", "hrv_ms", "hrvMs", "rmssd"},
		getF:    func(r *db.DayRecord) *float64 { return r.HRV },
		setF:    func(r *db.DayRecord, v *float64) { r.HRV = v },
	},
	{
		name: "bloodPressureSystolic", kind: fieldInt,
		aliases: []string{"blood_pressure_systolic", "bloodPressureSystolic", "systolic", "bp_systolic", "bpSystolic"},
		getI:    func(r *db.DayRecord) *int { return r.BloodPressureSystolic },
		setI:    func(r *db.DayRecord, v *int) { r.BloodPressureSystolic = v },
	},
	{
		name: "bloodPressureDiastolic", kind: fieldInt,
		aliases: []string{"blood_pressure_diastolic", "bloodPressureDiastolic", "diastolic", "bp_diastolic", "bpDiastolic"},
		getI:    func(r *db.DayRecord) *int { return r.BloodPressureDiastolic },
		setI:    func(r *db.DayRecord, v *int) { r.BloodPressureDiastolic = v },
	},
	{
		name: "oxygenSaturation", kind: fieldFloat,
		aliases: []string{"oxygen_saturation", "oxygenSaturation", "spo2", "blood_oxygen", "bloodOxygen"},
		getF:    func(r *db.DayRecord) *float64 { return r.OxygenSaturation },
		setF:    func(r *db.DayRecord, v *float64) { r.OxygenSaturation = v },
	},
	{
		name: "respiratoryRate", kind: fieldFloat,
		aliases: []string{"respiratory_rate", "respiratoryRate", "breathing_rate", "breathingRate"},
		getF:    func(r *db.DayRecord) *float64 { return r.RespiratoryRate },
		setF:    func(r *db.DayRecord, v *float64) { r.RespiratoryRate = v },
	},

	// 身体成分 / 活动
	{
		name: "weight", kind: fieldFloat,
		aliases: []string{"weight", "weight_kg", "weightKg", "body_weight", "bodyWeight", "weight_value"},
		getF:    func(r *db.DayRecord) *float64 { return r.Weight },
		setF:    func(r *db.DayRecord, v *float64) { r.Weight = v },
	},
	{
		name: "bodyFat", kind: fieldFloat,
		aliases: []string{"body_fat", "bodyFat", "body_fat_pct", "bodyFatPct", "body_fat_percentage", "fat_pct"},
		getF:    func(r *db.DayRecord) *float64 { return r.BodyFat },
		setF:    func(r *db.DayRecord, v *float64) { r.BodyFat = v },
	},
	{
		name: "muscleMass", kind: fieldFloat,
		aliases: []string{"muscle_mass", "muscleMass", "muscle_kg", "muscleKg", "muscle"},
		getF:    func(r *db.DayRecord) *float64 { return r.MuscleMass },
		setF:    func(r *db.DayRecord, v *float64) { r.MuscleMass = v },
	},
	{
		name: "bmi", kind: fieldFloat,
		aliases: []string{"bmi", "BMI", "body_mass_index", "bodyMassIndex"},
		getF:    func(r *db.DayRecord) *float64 { return r.BMI },
		setF:    func(r *db.DayRecord, v *float64) { r.BMI = v },
	},
	{
		name: "bmr", kind: fieldInt,
		aliases: []string{"bmr", "basal_metabolic_rate", "basalMetabolicRate"},
		getI:    func(r *db.DayRecord) *int { return r.BMR },
		setI:    func(r *db.DayRecord, v *int) { r.BMR = v },
	},
	{
		name: "visceralFat", kind: fieldFloat,
		aliases: []string{"visceral_fat", "visceralFat", "visceral_fat_level", "visceralFatLevel"},
		getF:    func(r *db.DayRecord) *float64 { return r.VisceralFat },
		setF:    func(r *db.DayRecord, v *float64) { r.VisceralFat = v },
	},
	{
		name: "bodyWaterPct", kind: fieldFloat,
		aliases: []string{"body_water_pct", "bodyWaterPct", "body_water", "bodyWater", "water_pct", "hydration_pct"},
		getF:    func(r *db.DayRecord) *float64 { return r.BodyWaterPct },
		setF:    func(r *db.DayRecord, v *float64) { r.BodyWaterPct = v },
	},
	{
		name: "bonePct", kind: fieldFloat,
		aliases: []string{"bone_pct", "bonePct", "bone_mass_pct", "boneMassPct", "bone"},
		getF:    func(r *db.DayRecord) *float64 { return r.BonePct },
		setF:    func(r *db.DayRecord, v *float64) { r.BonePct = v },
	},
	{
		name: "proteinPct", kind: fieldFloat,
		aliases: []string{"protein_pct", "proteinPct", "protein"},
		getF:    func(r *db.DayRecord) *float64 { return r.ProteinPct },
		setF:    func(r *db.DayRecord, v *float64) { r.ProteinPct = v },
	},
	{
		name: "leanBodyMass", kind: fieldFloat,
		aliases: []string{"lean_body_mass", "leanBodyMass", "lean_mass", "leanMass", "ffm"},
		getF:    func(r *db.DayRecord) *float64 { return r.LeanBodyMass },
		setF:    func(r *db.DayRecord, v *float64) { r.LeanBodyMass = v },
	},
	{
		name: "bodyScore", kind: fieldInt,
		aliases: []string{"body_score", "bodyScore"},
		getI:    func(r *db.DayRecord) *int { return r.BodyScore },
		setI:    func(r *db.DayRecord, v *int) { r.BodyScore = v },
	},
	{
		name: "bodyType", kind: fieldText,
		aliases: []string{"body_type", "bodyType", "body_shape", "bodyShape"},
		getT:    func(r *db.DayRecord) *string { return r.BodyType },
		setT:    func(r *db.DayRecord, v *string) { r.BodyType = v },
	},
	{
		name: "steps", kind: fieldInt,
		aliases: []string{"steps", "step_count", "stepCount", "daily_steps", "dailySteps", "total_steps"},
		getI:    func(r *db.DayRecord) *int { return r.Steps },
		setI:    func(r *db.DayRecord, v *int) { r.Steps = v },
	},
	{
		name: "distanceMeters", kind: fieldFloat,
		aliases: []string{"distance_meters", "distanceMeters", "distance", "distance_m"},
		getF:    func(r *db.DayRecord) *float64 { return r.DistanceMeters },
		setF:    func(r *db.DayRecord, v *float64) { r.DistanceMeters = v },
	},
	{
		name: "caloriesBurned", kind: fieldInt,
		aliases: []string{"calories_burned", "caloriesBurned", "calories", "active_calories", "activeCalories", "calories_out", "caloriesOut"},
		getI:    func(r *db.DayRecord) *int { return r.CaloriesBurned },
		setI:    func(r *db.DayRecord, v *int) { r.CaloriesBurned = v },
	},
	{
		name: "activityRingPct", kind: fieldFloat,
		aliases: []string{"activity_ring_pct", "activityRingPct", "ring_completion", "ringCompletion", "activity_goal_pct"},
		getF:    func(r *db.DayRecord) *float64 { return r.ActivityRingPct },
		setF:    func(r *db.DayRecord, v *float64) { r.ActivityRingPct = v },
	},
	{
		name: "metabolicAge", kind: fieldInt,
		aliases: []string{"metabolic_age", "metabolicAge"},
		getI:    func(r *db.DayRecord) *int { return r.MetabolicAge },
		setI:    func(r *db.DayRecord, v *int) { r.MetabolicAge = v },
	},
	{
		name: "fitnessAge", kind: fieldInt,
		aliases: []string{"fitness_age", "fitnessAge"},
		getI:    func(r *db.DayRecord) *int { return r.FitnessAge },
		setI:    func(r *db.DayRecord, v *int) { r.FitnessAge = v },
	},
	{
		name: "vo2Max", kind: fieldFloat,
		aliases: []string{"vo2_max", "vo2Max", "vo2max", "VO2Max", "aerobic_capacity", "aerobicCapacity"},
		getF:    func(r *db.DayRecord) *float64 { return r.VO2Max },
		setF:    func(r *db.DayRecord, v *float64) { r.VO2Max = v },
	},
	{
		name: "cycleDay", kind: fieldInt,
		aliases: []string{"cycle_day", "cycleDay"},
		getI:    func(r *db.DayRecord) *int { return r.CycleDay },
		setI:    func(r *db.DayRecord, v *int) { r.CycleDay = v },
	},
	{
		name: "cyclePhase", kind: fieldText,
		aliases: []string{"cycle_phase", "cyclePhase", "menstrual_phase", "menstrualPhase"},
		getT:    func(r *db.DayRecord) *string { return r.CyclePhase },
		setT:    func(r *db.DayRecord, v *string) { r.CyclePhase = v },
	},
}

// fieldSpecByName 提供按规范名的快速查找。
var fieldSpecByName = func() map[string]*fieldSpec {
	m := make(map[string]*fieldSpec, len(canonicalFields))
	for i := range canonicalFields {
		m[canonicalFields[i].name] = &canonicalFields[i]
	}
	return m
}()

// slowFallbackFields 是查询时允许向历史回填的慢变化字段集合。
var slowFallbackFields = []string{
	"weight",
	"muscleMass",
	"bodyFat",
	"bmi",
	"visceralFat",
	"vo2Max",
	"fitnessAge",
	"bloodPressureSystolic",
	"bloodPressureDiastolic",
	"restingHeartRate",
}
