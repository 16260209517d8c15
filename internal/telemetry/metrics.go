// Package telemetry 提供 Prometheus 指标的收集与公开。
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder 是服务层使用的窄记录接口。
type Recorder interface {
	RecordUnitRepair(field string)
	RecordMergeDecision(reason string)
	RecordImported(source string, count int)
	RecordImportError(source string)
	RecordImportLatency(d time.Duration)
}

// Collector 是基于 Prometheus 的 Recorder 实现。
type Collector struct {
	unitRepairs    *prometheus.CounterVec
	mergeDecisions *prometheus.CounterVec
	imported       *prometheus.CounterVec
	importErrors   *prometheus.CounterVec
	importLatency  prometheus.Histogram
}

// NewCollector 创建 Collector 并把指标注册到指定的注册表。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		unitRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthlog_unit_repair_total",
			Help: "单位修复启发式触发次数（按字段）",
		}, []string{"field"}),
		mergeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthlog_merge_decision_total",
			Help: "字段覆盖仲裁结果数（按原因）",
		}, []string{"reason"}),
		imported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthlog_records_imported_total",
			Help: "成功导入的记录数（按来源）",
		}, []string{"source"}),
		importErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthlog_import_errors_total",
			Help: "导入过程中的非致命错误数（按来源）",
		}, []string{"source"}),
		importLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthlog_import_latency_seconds",
			Help:    "单次适配器导入耗时（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.unitRepairs,
		c.mergeDecisions,
		c.imported,
		c.importErrors,
		c.importLatency,
	)

	return c
}

// RecordUnitRepair 记录一次单位修复触发。
func (c *Collector) RecordUnitRepair(field string) {
	c.unitRepairs.WithLabelValues(field).Inc()
}

// RecordMergeDecision 记录一次仲裁结果。
func (c *Collector) RecordMergeDecision(reason string) {
	c.mergeDecisions.WithLabelValues(reason).Inc()
}

// RecordImported 记录导入成功的记录数。
func (c *Collector) RecordImported(source string, count int) {
	if count <= 0 {
		return
	}
	c.imported.WithLabelValues(source).Add(float64(count))
}

// RecordImportError 记录一次导入错误。
func (c *Collector) RecordImportError(source string) {
	c.importErrors.WithLabelValues(source).Inc()
}

// RecordImportLatency 记录一次导入耗时。
func (c *Collector) RecordImportLatency(d time.Duration) {
	c.importLatency.Observe(d.Seconds())
}

// NopRecorder 在测试或未接入监控时使用。
type NopRecorder struct{}

func (NopRecorder) RecordUnitRepair(string)           {}
func (NopRecorder) RecordMergeDecision(string)        {}
func (NopRecorder) RecordImported(string, int)        {}
func (NopRecorder) RecordImportError(string)          {}
func (NopRecorder) RecordImportLatency(time.Duration) {}
