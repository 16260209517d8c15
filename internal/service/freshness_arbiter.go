package service

import (
	"time"

	"github.com/healthlog/internal/db"
)

// 仲裁结论原因，用于日志与遥测。
const (
	ReasonLocked         = "locked"
	ReasonNew            = "new"
	ReasonHigherPriority = "higher_priority"
	ReasonLowerPriority  = "lower_priority"
	ReasonFresher        = "fresher"
	ReasonStale          = "stale"
	ReasonTieKeep        = "tie_keep_existing"
)

// Decision 描述一次字段覆盖仲裁的结果。
type Decision struct {
	Overwrite bool
	Reason    string
}

// defaultSourcePriorities 是默认的来源优先级表，数值越大越优先。
// 手工录入永远优先；厂商导出是官方全量备份，高于实时 API。
var defaultSourcePriorities = map[string]int{
	SourceManual:       100,
	SourceVendorExport: 80,
	SourceVendorAPI:    70,
	SourceDriveBackup:  60,
	SourceScaleCSV:     50,
}

// FreshnessArbiter 决定候选值能否覆盖已存值。
// 除读取锁定状态外完全无状态，可并发调用。
type FreshnessArbiter struct {
	priorities map[string]int
}

// NewFreshnessArbiter 构造使用默认优先级表的仲裁器。
func NewFreshnessArbiter() *FreshnessArbiter {
	return &FreshnessArbiter{priorities: defaultSourcePriorities}
}

// WithPriorities 覆盖优先级表，便于测试与部署期调整。
func (a *FreshnessArbiter) WithPriorities(priorities map[string]int) *FreshnessArbiter {
	if len(priorities) > 0 {
		a.priorities = priorities
	}
	return a
}

// Decide 按固定顺序仲裁：
// 1. 锁定日期内 → 永不覆盖；
// 2. 无已存值 → 覆盖；
// 3. 来源优先级高者胜；
// 4. 优先级相同比较测量时间，新者胜；
// 5. 平局保留已存值。
func (a *FreshnessArbiter) Decide(existing *db.FieldSource, candidate db.FieldSource, date time.Time, lock *db.DataLock) Decision {
	if lock.Covers(date) {
		return Decision{Overwrite: false, Reason: ReasonLocked}
	}

	if existing == nil {
		return Decision{Overwrite: true, Reason: ReasonNew}
	}

	candPriority := a.priority(candidate.Source)
	existPriority := a.priority(existing.Source)

	switch {
	case candPriority > existPriority:
		return Decision{Overwrite: true, Reason: ReasonHigherPriority}
	case candPriority < existPriority:
		return Decision{Overwrite: false, Reason: ReasonLowerPriority}
	}

	switch {
	case candidate.MeasuredAt.After(existing.MeasuredAt):
		return Decision{Overwrite: true, Reason: ReasonFresher}
	case candidate.MeasuredAt.Before(existing.MeasuredAt):
		return Decision{Overwrite: false, Reason: ReasonStale}
	}

	return Decision{Overwrite: false, Reason: ReasonTieKeep}
}

func (a *FreshnessArbiter) priority(source string) int {
	if p, ok := a.priorities[source]; ok {
		return p
	}
	// 未知来源按最低优先级处理
	return 0
}
