package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/healthlog/internal/db"
	"github.com/microcosm-cc/bluemonday"
)

// bmiGramsThreshold 触发单位修复：BMI 超过该值视为用克重量算出。
// 这是一个记录在案的启发式规则，触发时会发出遥测与警告。
const bmiGramsThreshold = 100

// RawRecord 是适配器产出的瞬态原始记录。
// 字段名保持来源命名，仅被 FieldMapper 消费一次，不落库。
type RawRecord struct {
	Source     string
	UserID     uint
	Fields     map[string]any
	MeasuredAt time.Time
}

// MapperWarning 描述映射阶段触发的非致命数据质量事件。
type MapperWarning struct {
	Field    string
	Rule     string
	Raw      float64
	Repaired float64
}

// 日期与日内时间戳的有序别名表，排位越靠前越优先。
var (
	dateAliases = []string{
		"date", "day", "calendar_date", "calendarDate",
		"summary_date", "summaryDate", "record_date", "recordDate", "start_date",
	}
	startTimeAliases = []string{
		"start_time", "startTime", "timestamp", "measured_at", "measuredAt", "time",
	}
	endTimeAliases = []string{
		"end_time", "endTime", "finish_time", "finishTime",
	}
)

// FieldMapper 将原始记录规范化为 DayRecord 的部分字段。
// 无状态、确定性：同一输入在任意调用间产生同一输出。
type FieldMapper struct {
	sanitizer *bluemonday.Policy
	loc       *time.Location
}

// NewFieldMapper 构造 FieldMapper。loc 为空时使用 time.Local。
func NewFieldMapper(loc *time.Location) *FieldMapper {
	if loc == nil {
		loc = time.Local
	}
	return &FieldMapper{
		sanitizer: bluemonday.StrictPolicy(),
		loc:       loc,
	}
}

// Normalize 按别名表解析 raw，返回仅设置了已解析字段的 DayRecord。
// 除用户/日期外没有任何字段时返回 nil，表示该记录不应持久化。
func (m *FieldMapper) Normalize(raw RawRecord) (*db.DayRecord, []MapperWarning, error) {
	date, ok := m.resolveDate(raw)
	if !ok {
		return nil, nil, fmt.Errorf("normalize %s record: no resolvable date", raw.Source)
	}

	record := &db.DayRecord{
		UserID: raw.UserID,
		Date:   date,
	}

	var warnings []MapperWarning
	resolved := 0

	for i := range canonicalFields {
		spec := &canonicalFields[i]

		value, found := firstAliasValue(raw.Fields, spec.aliases)
		if !found {
			continue
		}

		switch spec.kind {
		case fieldFloat:
			f, ok := parseFloatValue(value)
			if !ok {
				continue
			}
			if spec.name == "bmi" && f > bmiGramsThreshold {
				repaired := round1(f / 1000)
				warnings = append(warnings, MapperWarning{
					Field:    spec.name,
					Rule:     "bmi_from_grams",
					Raw:      f,
					Repaired: repaired,
				})
				f = repaired
			}
			spec.setF(record, &f)
			resolved++
		case fieldInt:
			f, ok := parseFloatValue(value)
			if !ok {
				continue
			}
			n := int(math.Round(f))
			spec.setI(record, &n)
			resolved++
		case fieldText:
			s, ok := textValue(value)
			if !ok {
				continue
			}
			clean := strings.TrimSpace(m.sanitizer.Sanitize(s))
			if clean == "" {
				continue
			}
			spec.setT(record, &clean)
			resolved++
		}
	}

	if resolved == 0 {
		return nil, warnings, nil
	}

	return record, warnings, nil
}

// NormalizePoint 将一条细粒度读数转为 DataPoint。
// 起始时间从时间戳别名解析；解析失败时回退到 MeasuredAt。
func (m *FieldMapper) NormalizePoint(raw RawRecord, dataType string, value float64, unit string) db.DataPoint {
	start := raw.MeasuredAt
	if t, ok := m.resolveTime(raw.Fields, startTimeAliases); ok {
		start = t
	}

	point := db.DataPoint{
		UserID:    raw.UserID,
		DataType:  dataType,
		StartTime: start,
		Value:     value,
		Unit:      unit,
		SourceApp: raw.Source,
	}

	if t, ok := m.resolveTime(raw.Fields, endTimeAliases); ok {
		point.EndTime = &t
	}
	if s, found := firstAliasValue(raw.Fields, []string{"device_id", "deviceId", "device"}); found {
		if text, ok := textValue(s); ok {
			point.DeviceID = strings.TrimSpace(text)
		}
	}
	if meta, found := raw.Fields["metadata"]; found {
		if encoded, err := json.Marshal(meta); err == nil {
			point.Metadata = string(encoded)
		}
	}

	return point
}

// ResolveTimes 返回记录可选的日内起止时间戳，供睡眠归属与数据点使用。
func (m *FieldMapper) ResolveTimes(raw RawRecord) (start, end *time.Time) {
	if t, ok := m.resolveTime(raw.Fields, startTimeAliases); ok {
		start = &t
	}
	if t, ok := m.resolveTime(raw.Fields, endTimeAliases); ok {
		end = &t
	}
	return start, end
}

// resolveDate 依次尝试日期别名与时间戳别名，返回本地自然日零点。
func (m *FieldMapper) resolveDate(raw RawRecord) (time.Time, bool) {
	if t, ok := m.resolveTime(raw.Fields, dateAliases); ok {
		return civilDay(t, m.loc), true
	}
	if t, ok := m.resolveTime(raw.Fields, startTimeAliases); ok {
		return civilDay(t, m.loc), true
	}
	if !raw.MeasuredAt.IsZero() {
		return civilDay(raw.MeasuredAt, m.loc), true
	}
	return time.Time{}, false
}

func (m *FieldMapper) resolveTime(fields map[string]any, aliases []string) (time.Time, bool) {
	value, found := firstAliasValue(fields, aliases)
	if !found {
		return time.Time{}, false
	}
	return parseTimeValue(value, m.loc)
}

// firstAliasValue 按序扫描别名，返回第一个存在且非空的值。
// 后续别名即使存在也会被忽略（first-match 而非 best-match）。
func firstAliasValue(fields map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		value, ok := fields[alias]
		if !ok || value == nil {
			continue
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return value, true
	}
	return nil, false
}

func parseFloatValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func textValue(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// parseTimeValue 解析常见的时间表示：time.Time、epoch 秒/毫秒、
// 以及若干日期/时间字符串格式。
func parseTimeValue(value any, loc *time.Location) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case float64:
		return epochToTime(v), true
	case int64:
		return epochToTime(float64(v)), true
	case int:
		return epochToTime(float64(v)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochToTime(f), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f), true
		}
		layouts := []string{
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02",
			"2006/01/02 15:04:05",
			"2006/01/02",
		}
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// epochToTime 区分毫秒与秒级 epoch（阈值 1e12 覆盖到公元 33658 年的毫秒值）。
func epochToTime(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v))
	}
	return time.Unix(int64(v), 0)
}

// civilDay 将时间转换到 loc 时区后取自然日零点。
// 统一采用民用日历转换，不使用固定时差。
func civilDay(t time.Time, loc *time.Location) time.Time {
	tt := t.In(loc)
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, loc)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
