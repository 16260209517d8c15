package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/healthlog/internal/db"
	"github.com/healthlog/internal/service"
)

const dateFormat = "2006-01-02"

// metricsPayload 是合并写入接口的请求体，指针字段缺省即"未提供"。
type metricsPayload struct {
	UserID uint   `json:"user_id"`
	Date   string `json:"date"`

	SleepScore           *int     `json:"sleep_score"`
	SleepDurationMinutes *int     `json:"sleep_duration_minutes"`
	DeepSleepMinutes     *int     `json:"deep_sleep_minutes"`
	RemSleepMinutes      *int     `json:"rem_sleep_minutes"`
	LightSleepMinutes    *int     `json:"light_sleep_minutes"`
	SleepEfficiency      *float64 `json:"sleep_efficiency"`
	WakeEvents           *int     `json:"wake_events"`
	SleepDebtMinutes     *int     `json:"sleep_debt_minutes"`

	RecoveryScore          *int     `json:"recovery_score"`
	StrainScore            *float64 `json:"strain_score"`
	ReadinessScore         *int     `json:"readiness_score"`
	StressLevel            *int     `json:"stress_level"`
	RestingHeartRate       *int     `json:"resting_heart_rate"`
	HRV                    *float64 `json:"hrv"`
	BloodPressureSystolic  *int     `json:"blood_pressure_systolic"`
	BloodPressureDiastolic *int     `json:"blood_pressure_diastolic"`
	OxygenSaturation       *float64 `json:"oxygen_saturation"`
	RespiratoryRate        *float64 `json:"respiratory_rate"`

	Weight          *float64 `json:"weight"`
	BodyFat         *float64 `json:"body_fat"`
	MuscleMass      *float64 `json:"muscle_mass"`
	BMI             *float64 `json:"bmi"`
	BMR             *int     `json:"bmr"`
	VisceralFat     *float64 `json:"visceral_fat"`
	BodyWaterPct    *float64 `json:"body_water_pct"`
	BonePct         *float64 `json:"bone_pct"`
	ProteinPct      *float64 `json:"protein_pct"`
	LeanBodyMass    *float64 `json:"lean_body_mass"`
	BodyScore       *int     `json:"body_score"`
	BodyType        *string  `json:"body_type"`
	Steps           *int     `json:"steps"`
	DistanceMeters  *float64 `json:"distance_meters"`
	CaloriesBurned  *int     `json:"calories_burned"`
	ActivityRingPct *float64 `json:"activity_ring_pct"`
	MetabolicAge    *int     `json:"metabolic_age"`
	FitnessAge      *int     `json:"fitness_age"`
	VO2Max          *float64 `json:"vo2_max"`
	CycleDay        *int     `json:"cycle_day"`
	CyclePhase      *string  `json:"cycle_phase"`
}

func (p *metricsPayload) toRecord(date time.Time) *db.DayRecord {
	return &db.DayRecord{
		UserID: p.UserID,
		Date:   date,

		SleepScore:           p.SleepScore,
		SleepDurationMinutes: p.SleepDurationMinutes,
		DeepSleepMinutes:     p.DeepSleepMinutes,
		RemSleepMinutes:      p.RemSleepMinutes,
		LightSleepMinutes:    p.LightSleepMinutes,
		SleepEfficiency:      p.SleepEfficiency,
		WakeEvents:           p.WakeEvents,
		SleepDebtMinutes:     p.SleepDebtMinutes,

		RecoveryScore:          p.RecoveryScore,
		StrainScore:            p.StrainScore,
		ReadinessScore:         p.ReadinessScore,
		StressLevel:            p.StressLevel,
		RestingHeartRate:       p.RestingHeartRate,
		HRV:                    p.HRV,
		BloodPressureSystolic:  p.BloodPressureSystolic,
		BloodPressureDiastolic: p.BloodPressureDiastolic,
		OxygenSaturation:       p.OxygenSaturation,
		RespiratoryRate:        p.RespiratoryRate,

		Weight:          p.Weight,
		BodyFat:         p.BodyFat,
		MuscleMass:      p.MuscleMass,
		BMI:             p.BMI,
		BMR:             p.BMR,
		VisceralFat:     p.VisceralFat,
		BodyWaterPct:    p.BodyWaterPct,
		BonePct:         p.BonePct,
		ProteinPct:      p.ProteinPct,
		LeanBodyMass:    p.LeanBodyMass,
		BodyScore:       p.BodyScore,
		BodyType:        p.BodyType,
		Steps:           p.Steps,
		DistanceMeters:  p.DistanceMeters,
		CaloriesBurned:  p.CaloriesBurned,
		ActivityRingPct: p.ActivityRingPct,
		MetabolicAge:    p.MetabolicAge,
		FitnessAge:      p.FitnessAge,
		VO2Max:          p.VO2Max,
		CycleDay:        p.CycleDay,
		CyclePhase:      p.CyclePhase,
	}
}

// GetHealthMetrics 返回单日或最近 N 天的富化记录。
func (a *API) GetHealthMetrics(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	if rawDate := c.Query("date"); rawDate != "" {
		date, err := time.ParseInLocation(dateFormat, rawDate, time.Local)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid date")
			return
		}

		record, err := a.health.GetHealthMetrics(userID, date)
		if errors.Is(err, service.ErrDayRecordNotFound) {
			respondError(c, http.StatusNotFound, "no record for date")
			return
		}
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to load metrics")
			return
		}
		respondSuccess(c, http.StatusOK, gin.H{"record": record})
		return
	}

	days := 7
	if rawDays := c.Query("days"); rawDays != "" {
		parsed, err := strconv.Atoi(rawDays)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "invalid days")
			return
		}
		days = parsed
	}

	records, err := a.health.GetHealthMetricsRange(userID, days)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load metrics")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"records": records})
}

// UpsertHealthMetrics 以手工来源合并写入单日记录。
func (a *API) UpsertHealthMetrics(c *gin.Context) {
	var payload metricsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.UserID == 0 {
		respondError(c, http.StatusBadRequest, "user_id is required")
		return
	}

	date, err := time.ParseInLocation(dateFormat, payload.Date, time.Local)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid date")
		return
	}

	record, err := a.health.UpsertHealthMetrics(payload.toRecord(date))
	switch {
	case errors.Is(err, service.ErrRecordLocked):
		respondError(c, http.StatusConflict, "date is locked")
		return
	case errors.Is(err, service.ErrEmptyPartial):
		respondError(c, http.StatusBadRequest, "no fields to update")
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "failed to upsert metrics")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"record": record})
}

// GetHealthDataPoints 返回类型+时间区间的数据点。
func (a *API) GetHealthDataPoints(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	dataType := c.Query("type")
	if dataType == "" {
		respondError(c, http.StatusBadRequest, "type is required")
		return
	}

	start, err := time.ParseInLocation(dateFormat, c.Query("start"), time.Local)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := time.ParseInLocation(dateFormat, c.Query("end"), time.Local)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid end")
		return
	}

	points, err := a.health.GetHealthDataPoints(userID, dataType, start, end.AddDate(0, 0, 1))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load data points")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"points": points})
}

type manualEntryPayload struct {
	UserID           uint     `json:"user_id"`
	Date             string   `json:"date"`
	RestingHeartRate *int     `json:"resting_heart_rate"`
	HRV              *float64 `json:"hrv"`
	Calories         *int     `json:"calories"`
}

// UpsertManualEntry 写入当日手工覆盖值。
func (a *API) UpsertManualEntry(c *gin.Context) {
	var payload manualEntryPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.UserID == 0 {
		respondError(c, http.StatusBadRequest, "user_id is required")
		return
	}

	date, err := time.ParseInLocation(dateFormat, payload.Date, time.Local)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid date")
		return
	}

	entry, err := a.health.UpsertManualEntry(payload.UserID, date, payload.RestingHeartRate, payload.HRV, payload.Calories)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to save manual entry")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"entry": entry})
}

type lockPayload struct {
	UserID   uint   `json:"user_id"`
	LockDate string `json:"lock_date"`
}

// SetDataLock 启用数据锁定。
func (a *API) SetDataLock(c *gin.Context) {
	var payload lockPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.UserID == 0 {
		respondError(c, http.StatusBadRequest, "user_id is required")
		return
	}

	lockDate, err := time.ParseInLocation(dateFormat, payload.LockDate, time.Local)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid lock_date")
		return
	}

	lock, err := a.health.SetDataLock(payload.UserID, lockDate)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to set lock")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"lock": lock})
}

// UnlockAllData 解除数据锁定。
func (a *API) UnlockAllData(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	if err := a.health.UnlockAllData(userID); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to unlock")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{})
}

// GetDataLockStatus 返回锁定状态。
func (a *API) GetDataLockStatus(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	lock, err := a.health.GetDataLockStatus(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load lock status")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"lock": lock})
}

type wipePayload struct {
	UserID                  uint `json:"user_id"`
	PreserveManualHeartRate bool `json:"preserve_manual_heart_rate"`
}

// WipeAllData 删除用户全部健康数据（显式销毁操作）。
func (a *API) WipeAllData(c *gin.Context) {
	var payload wipePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.UserID == 0 {
		respondError(c, http.StatusBadRequest, "user_id is required")
		return
	}

	summary, err := a.health.WipeAllData(payload.UserID, payload.PreserveManualHeartRate)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to wipe data")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"tables_cleared":  summary.TablesCleared,
		"records_deleted": summary.RecordsDeleted,
	})
}

func queryUserID(c *gin.Context) (uint, bool) {
	raw := c.Query("user_id")
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		respondError(c, http.StatusBadRequest, "user_id is required")
		return 0, false
	}
	return uint(parsed), true
}
