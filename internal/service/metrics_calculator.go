package service

import (
	"math"

	"github.com/healthlog/internal/db"
)

// 派生指标的公式常数。
const (
	// 非运动估算 VO2max：15.3 × HRmax / RHR，HRmax = 220 − 年龄
	vo2MaxFactor = 15.3
	hrMaxBase    = 220

	// 体重超过该值视为以克为单位，除以 1000 再参与公斤公式
	weightGramsThreshold = 1000

	// 活动评分的递减分段线性曲线端点：
	// 低活动量 → 高分，量表刻画的是生理负荷而非健身水平
	stepsLowBound    = 3000
	stepsHighBound   = 12000
	caloriesLowBound = 200
	caloriesHighBond = 800
	activityFloor    = 50.0
	activityCeiling  = 100.0

	// 代理恢复值（仅用于 strain 内部）：睡眠 50% + 活动 30% + 静息心率修正 20%
	proxySleepWeight    = 0.5
	proxyActivityWeight = 0.3
	proxyRHRWeight      = 0.2
	proxySleepDefault   = 70.0
	proxyRHRDefault     = 75.0

	strainCeiling = 21.0

	// 压力水平权重（上游未给出明确常数，此处为文档化的选定值）：
	// 0.4×睡眠缺口 + 0.3×负荷占比 + 0.3×静息心率负荷
	stressSleepWeight  = 0.4
	stressStrainWeight = 0.3
	stressRHRWeight    = 0.3
	stressRHRDefault   = 50.0
)

// MetricsCalculator 从 DayRecord 与可选的当日手工覆盖计算派生健康评分。
// 所有方法都是纯函数：必需输入缺失时返回 nil（未知），绝不默认成零。
type MetricsCalculator struct{}

// NewMetricsCalculator 构造 MetricsCalculator。
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// EstimateVO2Max 按静息心率做非运动估算，保留一位小数。
func (c *MetricsCalculator) EstimateVO2Max(restingHR *int, age int) *float64 {
	if restingHR == nil || *restingHR <= 0 || age <= 0 || age >= hrMaxBase {
		return nil
	}
	hrMax := float64(hrMaxBase - age)
	v := round1(vo2MaxFactor * hrMax / float64(*restingHR))
	return &v
}

// MuscleMass 由体重与体脂率估算肌肉量（公斤，一位小数）。
func (c *MetricsCalculator) MuscleMass(weight *float64, bodyFatPct *float64) *float64 {
	if weight == nil || bodyFatPct == nil {
		return nil
	}
	kg := normalizeWeightKg(*weight)
	if kg <= 0 || *bodyFatPct < 0 || *bodyFatPct >= 100 {
		return nil
	}
	v := round1(kg * (1 - *bodyFatPct/100))
	return &v
}

// ActivityScore 把步数与卡路里按 50/50 混合成 0–100 的活动负荷分。
// 只有一个输入可用时单独使用该输入；两者皆缺返回 nil。
// 手工卡路里覆盖优先于计算/设备值，由调用方先行替换。
func (c *MetricsCalculator) ActivityScore(steps *int, calories *int) *float64 {
	var components []float64
	if steps != nil {
		components = append(components, decreasingCurve(float64(*steps), stepsLowBound, stepsHighBound))
	}
	if calories != nil {
		components = append(components, decreasingCurve(float64(*calories), caloriesLowBound, caloriesHighBond))
	}
	if len(components) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range components {
		sum += v
	}
	v := sum / float64(len(components))
	return &v
}

// Strain 计算 0–21 的负荷分：对代理恢复值取反并截断。
// 代理恢复 = 睡眠 50% + 活动 30% + 静息心率修正 20%，
// 睡眠/心率缺失时使用文档化的中性默认（70 / 75），活动分是必需输入。
func (c *MetricsCalculator) Strain(sleepScore *int, activityScore *float64, restingHR *int) *float64 {
	if activityScore == nil {
		return nil
	}

	sleep := proxySleepDefault
	if sleepScore != nil {
		sleep = float64(*sleepScore)
	}
	rhrAdj := proxyRHRDefault
	if restingHR != nil {
		rhrAdj = restingHRScore(*restingHR)
	}

	proxyRecovery := sleep*proxySleepWeight + *activityScore*proxyActivityWeight + rhrAdj*proxyRHRWeight
	v := clampFloat(100-proxyRecovery, 0, strainCeiling)
	return &v
}

// Recovery 计算 0–100 的恢复分：HRV 归一分、静息心率分与睡眠分等权平均。
// 至少需要其中两项已知，对已知分量取平均；否则返回 nil。
// 这是规范的恢复公式；睡眠/活动/心率的混合只作为 strain 的内部代理存在。
func (c *MetricsCalculator) Recovery(hrv *float64, restingHR *int, sleepScore *int) *int {
	var components []float64
	if hrv != nil {
		components = append(components, clampFloat(*hrv, 0, 100))
	}
	if restingHR != nil {
		components = append(components, restingHRScore(*restingHR))
	}
	if sleepScore != nil {
		components = append(components, clampFloat(float64(*sleepScore), 0, 100))
	}
	if len(components) < 2 {
		return nil
	}
	sum := 0.0
	for _, v := range components {
		sum += v
	}
	v := clampInt(int(math.Round(sum/float64(len(components)))), 0, 100)
	return &v
}

// Stress 计算 0–100 的压力水平。
// 需要睡眠分与负荷分；静息心率缺失时使用中性负荷 50。
func (c *MetricsCalculator) Stress(sleepScore *int, strain *float64, restingHR *int) *int {
	if sleepScore == nil || strain == nil {
		return nil
	}

	rhrLoad := stressRHRDefault
	if restingHR != nil {
		rhrLoad = restingHRLoad(*restingHR)
	}

	raw := stressSleepWeight*(100-float64(*sleepScore)) +
		stressStrainWeight*(*strain*100/strainCeiling) +
		stressRHRWeight*rhrLoad
	v := clampInt(int(math.Round(raw)), 0, 100)
	return &v
}

// MetabolicAgeInput 汇集代谢年龄计算的可选输入。
type MetabolicAgeInput struct {
	HRV           *float64
	RecoveryScore *int
	SleepScore    *int
	VO2Max        *float64
	BodyFat       *float64
	RestingHR     *int
}

// MetabolicAge 从实际年龄出发，按各输入的阶梯表独立加减年数。
// 任一输入未知即跳过对应修正；实际年龄未知返回 nil。
func (c *MetricsCalculator) MetabolicAge(age int, in MetabolicAgeInput) *int {
	if age <= 0 {
		return nil
	}

	delta := 0.0

	if in.VO2Max != nil {
		switch v := *in.VO2Max; {
		case v >= 45:
			delta -= 3
		case v >= 35:
			delta -= 1
		default:
			delta += 2
		}
	}

	if in.HRV != nil {
		switch v := *in.HRV; {
		case v >= 80:
			delta -= 2
		case v >= 50:
			delta -= 1
		case v >= 30:
			// 中性区间
		default:
			delta += 2
		}
	}

	if in.RecoveryScore != nil {
		switch v := *in.RecoveryScore; {
		case v >= 80:
			delta -= 2
		case v >= 60:
			delta -= 1
		case v >= 40:
			// 中性区间
		default:
			delta += 2
		}
	}

	if in.SleepScore != nil {
		switch v := *in.SleepScore; {
		case v >= 85:
			delta -= 2
		case v >= 70:
			delta -= 1
		case v >= 50:
			// 中性区间
		default:
			delta += 2
		}
	}

	if in.BodyFat != nil {
		switch v := *in.BodyFat; {
		case v < 15:
			delta -= 2
		case v < 23:
			delta -= 1
		case v <= 30:
			delta += 1
		default:
			delta += 3
		}
	}

	if in.RestingHR != nil {
		switch v := *in.RestingHR; {
		case v < 55:
			delta -= 2
		case v < 65:
			delta -= 1
		case v < 75:
			delta += 1
		default:
			delta += 3
		}
	}

	v := int(math.Round(float64(age) + delta))
	if v < 1 {
		v = 1
	}
	return &v
}

// Enrich 在记录之上补齐缺失的派生指标。
// 已存储/已覆盖的值优先，计算结果只填充未知字段，不做无条件重算。
// overrides 中的手工值（静息心率、HRV、卡路里）在计算时优先于设备值。
func (c *MetricsCalculator) Enrich(record *db.DayRecord, age int, overrides *db.ManualEntry) {
	if record == nil {
		return
	}

	restingHR := record.RestingHeartRate
	hrv := record.HRV
	calories := record.CaloriesBurned
	if overrides != nil {
		if overrides.RestingHeartRate != nil {
			restingHR = overrides.RestingHeartRate
			record.RestingHeartRate = overrides.RestingHeartRate
		}
		if overrides.HRV != nil {
			hrv = overrides.HRV
			record.HRV = overrides.HRV
		}
		if overrides.Calories != nil {
			calories = overrides.Calories
		}
	}

	if record.VO2Max == nil {
		record.VO2Max = c.EstimateVO2Max(restingHR, age)
	}
	if record.MuscleMass == nil {
		record.MuscleMass = c.MuscleMass(record.Weight, record.BodyFat)
	}
	if record.StrainScore == nil {
		activity := c.ActivityScore(record.Steps, calories)
		record.StrainScore = c.Strain(record.SleepScore, activity, restingHR)
	}
	if record.RecoveryScore == nil {
		record.RecoveryScore = c.Recovery(hrv, restingHR, record.SleepScore)
	}
	if record.StressLevel == nil {
		record.StressLevel = c.Stress(record.SleepScore, record.StrainScore, restingHR)
	}
	if record.MetabolicAge == nil {
		record.MetabolicAge = c.MetabolicAge(age, MetabolicAgeInput{
			HRV:           hrv,
			RecoveryScore: record.RecoveryScore,
			SleepScore:    record.SleepScore,
			VO2Max:        record.VO2Max,
			BodyFat:       record.BodyFat,
			RestingHR:     restingHR,
		})
	}
}

// normalizeWeightKg 把疑似克单位的体重换算为公斤。
func normalizeWeightKg(w float64) float64 {
	if w > weightGramsThreshold {
		return w / 1000
	}
	return w
}

// decreasingCurve 实现递减分段线性：低于 low 得满分 100，
// 高于 high 得下限 50，中间线性插值。
func decreasingCurve(v, low, high float64) float64 {
	switch {
	case v < low:
		return activityCeiling
	case v > high:
		return activityFloor
	default:
		return activityCeiling - (v-low)*(activityCeiling-activityFloor)/(high-low)
	}
}

// restingHRScore 把静息心率映射为 0–100 的健康分（心率越低分越高）。
func restingHRScore(rhr int) float64 {
	switch {
	case rhr <= 50:
		return 95
	case rhr <= 60:
		return 85
	case rhr <= 70:
		return 75
	case rhr <= 80:
		return 60
	default:
		return 45
	}
}

// restingHRLoad 把静息心率映射为 0–100 的压力负荷（心率越高负荷越大）。
func restingHRLoad(rhr int) float64 {
	switch {
	case rhr <= 50:
		return 20
	case rhr <= 60:
		return 35
	case rhr <= 70:
		return 50
	case rhr <= 80:
		return 70
	default:
		return 85
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
