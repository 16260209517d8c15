package service

import (
	"math"
	"testing"

	"github.com/healthlog/internal/db"
)

func iptr(v int) *int { return &v }

func fptr(v float64) *float64 { return &v }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEstimateVO2Max(t *testing.T) {
	calc := NewMetricsCalculator()

	got := calc.EstimateVO2Max(iptr(60), 35)
	if got == nil || !almostEqual(*got, 47.2) {
		t.Fatalf("expected 47.2, got %v", got)
	}

	if calc.EstimateVO2Max(nil, 35) != nil {
		t.Fatal("expected nil without resting heart rate")
	}
	if calc.EstimateVO2Max(iptr(60), 0) != nil {
		t.Fatal("expected nil without age")
	}
	if calc.EstimateVO2Max(iptr(0), 35) != nil {
		t.Fatal("expected nil for non-positive heart rate")
	}
}

func TestMuscleMassNormalizesGrams(t *testing.T) {
	calc := NewMetricsCalculator()

	got := calc.MuscleMass(fptr(70), fptr(20))
	if got == nil || !almostEqual(*got, 56.0) {
		t.Fatalf("expected 56.0, got %v", got)
	}

	// 克单位的体重先换算为公斤
	got = calc.MuscleMass(fptr(70000), fptr(20))
	if got == nil || !almostEqual(*got, 56.0) {
		t.Fatalf("expected grams to normalize to 56.0, got %v", got)
	}

	if calc.MuscleMass(nil, fptr(20)) != nil || calc.MuscleMass(fptr(70), nil) != nil {
		t.Fatal("expected nil with missing inputs")
	}
	if calc.MuscleMass(fptr(70), fptr(100)) != nil {
		t.Fatal("expected nil for out-of-range body fat")
	}
}

func TestActivityScoreCurve(t *testing.T) {
	calc := NewMetricsCalculator()

	// 低活动量 → 满分（量表刻画生理负荷）
	got := calc.ActivityScore(iptr(2000), iptr(150))
	if got == nil || !almostEqual(*got, 100) {
		t.Fatalf("expected 100, got %v", got)
	}

	// 高活动量 → 下限
	got = calc.ActivityScore(iptr(15000), iptr(1000))
	if got == nil || !almostEqual(*got, 50) {
		t.Fatalf("expected 50, got %v", got)
	}

	// 区间中点线性插值：7500 步 → 75 分
	got = calc.ActivityScore(iptr(7500), nil)
	if got == nil || !almostEqual(*got, 75) {
		t.Fatalf("expected 75, got %v", got)
	}

	if calc.ActivityScore(nil, nil) != nil {
		t.Fatal("expected nil without any input")
	}
}

func TestStrainWithDefaults(t *testing.T) {
	calc := NewMetricsCalculator()

	// 睡眠与静息心率缺失时使用中性默认 70 / 75：
	// proxy = 70×0.5 + 100×0.3 + 75×0.2 = 80 → strain = 20
	activity := calc.ActivityScore(iptr(2000), iptr(150))
	got := calc.Strain(nil, activity, nil)
	if got == nil || !almostEqual(*got, 20) {
		t.Fatalf("expected strain 20, got %v", got)
	}

	// 负荷分截断在 0–21
	low := 0.0
	got = calc.Strain(iptr(100), &low, iptr(45))
	if got == nil || *got < 0 || *got > strainCeiling {
		t.Fatalf("expected clamped strain, got %v", got)
	}

	if calc.Strain(iptr(80), nil, iptr(60)) != nil {
		t.Fatal("expected nil without activity score")
	}
}

func TestRecoveryNeedsTwoComponents(t *testing.T) {
	calc := NewMetricsCalculator()

	// hrv 80 → 80，rhr 55 → 85，平均 82.5 → 83
	got := calc.Recovery(fptr(80), iptr(55), nil)
	if got == nil || *got != 83 {
		t.Fatalf("expected 83, got %v", got)
	}

	// 三分量：65 + 75 + 80 → 73
	got = calc.Recovery(fptr(65), iptr(62), iptr(80))
	if got == nil || *got != 73 {
		t.Fatalf("expected 73, got %v", got)
	}

	// HRV 超过 100 截断后参与
	got = calc.Recovery(fptr(150), iptr(55), nil)
	if got == nil || *got != 93 {
		t.Fatalf("expected clamped hrv average 93, got %v", got)
	}

	if calc.Recovery(fptr(80), nil, nil) != nil {
		t.Fatal("expected nil with a single component")
	}
	if calc.Recovery(nil, nil, nil) != nil {
		t.Fatal("expected nil with no components")
	}
}

func TestStress(t *testing.T) {
	calc := NewMetricsCalculator()

	// 0.4×(100−70) + 0.3×(10.5×100/21) + 0.3×50 = 42
	got := calc.Stress(iptr(70), fptr(10.5), nil)
	if got == nil || *got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}

	if calc.Stress(nil, fptr(10), iptr(60)) != nil {
		t.Fatal("expected nil without sleep score")
	}
	if calc.Stress(iptr(70), nil, iptr(60)) != nil {
		t.Fatal("expected nil without strain")
	}
}

func TestMetabolicAgeTiers(t *testing.T) {
	calc := NewMetricsCalculator()

	// 全优输入：35 − (3+2+2+2+2+2) = 22
	got := calc.MetabolicAge(35, MetabolicAgeInput{
		VO2Max:        fptr(46),
		HRV:           fptr(85),
		RecoveryScore: iptr(85),
		SleepScore:    iptr(88),
		BodyFat:       fptr(14),
		RestingHR:     iptr(50),
	})
	if got == nil || *got != 22 {
		t.Fatalf("expected 22, got %v", got)
	}

	// 全差输入：35 + (2+2+2+2+3+3) = 49
	got = calc.MetabolicAge(35, MetabolicAgeInput{
		VO2Max:        fptr(30),
		HRV:           fptr(20),
		RecoveryScore: iptr(30),
		SleepScore:    iptr(40),
		BodyFat:       fptr(35),
		RestingHR:     iptr(80),
	})
	if got == nil || *got != 49 {
		t.Fatalf("expected 49, got %v", got)
	}

	// 输入缺失即跳过对应修正
	got = calc.MetabolicAge(35, MetabolicAgeInput{})
	if got == nil || *got != 35 {
		t.Fatalf("expected unchanged age 35, got %v", got)
	}

	// 下限钳制到 1
	got = calc.MetabolicAge(3, MetabolicAgeInput{
		VO2Max:        fptr(46),
		HRV:           fptr(85),
		RecoveryScore: iptr(85),
		SleepScore:    iptr(88),
		BodyFat:       fptr(14),
		RestingHR:     iptr(50),
	})
	if got == nil || *got != 1 {
		t.Fatalf("expected floor 1, got %v", got)
	}

	if calc.MetabolicAge(0, MetabolicAgeInput{}) != nil {
		t.Fatal("expected nil without actual age")
	}
}

func TestEnrichFillsOnlyMissing(t *testing.T) {
	calc := NewMetricsCalculator()

	record := &db.DayRecord{
		Steps:            iptr(2000),
		CaloriesBurned:   iptr(150),
		RestingHeartRate: iptr(70),
		HRV:              fptr(80),
		VO2Max:           fptr(55.5), // 已存值不被重算
	}

	calc.Enrich(record, 35, nil)

	if record.VO2Max == nil || !almostEqual(*record.VO2Max, 55.5) {
		t.Fatalf("expected stored vo2max to be kept, got %v", record.VO2Max)
	}
	if record.StrainScore == nil || !almostEqual(*record.StrainScore, 20) {
		t.Fatalf("expected strain 20, got %v", record.StrainScore)
	}
	if record.RecoveryScore == nil || *record.RecoveryScore != 78 {
		t.Fatalf("expected recovery 78, got %v", record.RecoveryScore)
	}
	// 睡眠分未知时压力水平保持未知
	if record.StressLevel != nil {
		t.Fatalf("expected stress to stay unknown, got %v", record.StressLevel)
	}
	if record.MetabolicAge == nil {
		t.Fatal("expected metabolic age to be computed")
	}
}

func TestEnrichManualOverridesWin(t *testing.T) {
	calc := NewMetricsCalculator()

	record := &db.DayRecord{
		RestingHeartRate: iptr(70),
		HRV:              fptr(40),
	}
	overrides := &db.ManualEntry{
		RestingHeartRate: iptr(55),
		HRV:              fptr(90),
	}

	calc.Enrich(record, 35, overrides)

	if record.RestingHeartRate == nil || *record.RestingHeartRate != 55 {
		t.Fatalf("expected override rhr 55, got %v", record.RestingHeartRate)
	}
	if record.HRV == nil || !almostEqual(*record.HRV, 90) {
		t.Fatalf("expected override hrv 90, got %v", record.HRV)
	}
	// VO2max 按覆盖后的 55 计算：15.3×185/55 = 51.5
	if record.VO2Max == nil || !almostEqual(*record.VO2Max, 51.5) {
		t.Fatalf("expected vo2max 51.5, got %v", record.VO2Max)
	}
}

func TestEnrichNilRecordIsNoop(t *testing.T) {
	NewMetricsCalculator().Enrich(nil, 35, nil)
}
