package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/healthlog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrArchiveTooLarge 在压缩包解压后超过大小上限时返回
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")
	// ErrArchiveNoDatabase 在压缩包内找不到数据库文件时返回
	ErrArchiveNoDatabase = errors.New("archive contains no database file")
)

// defaultMaxArchiveBytes 限制解压总量，防御 zip 炸弹。
const defaultMaxArchiveBytes = 512 << 20

// defaultSleepStageNames 是睡眠阶段编码的回退映射。
// 优先使用归档自带的 sleep_stage_type 表（数据驱动），仅在缺表时回退。
var defaultSleepStageNames = map[int]string{
	40001: "awake",
	40002: "light",
	40003: "rem",
	40004: "deep",
}

// VendorArchiveAdapter 解析厂商导出的压缩归档：
// 内含一个关系型数据库文件，记录步数、睡眠分段、静息心率、
// 体重体脂、血压与血氧（毫秒级 epoch 时间戳）。
type VendorArchiveAdapter struct {
	archivePath     string
	loc             *time.Location
	tmpDir          string
	maxArchiveBytes int64
	stageNames      map[int]string
}

// NewVendorArchiveAdapter 构造归档适配器。loc 为空时使用 time.Local。
func NewVendorArchiveAdapter(archivePath string, loc *time.Location) *VendorArchiveAdapter {
	if loc == nil {
		loc = time.Local
	}
	return &VendorArchiveAdapter{
		archivePath:     archivePath,
		loc:             loc,
		tmpDir:          os.TempDir(),
		maxArchiveBytes: defaultMaxArchiveBytes,
		stageNames:      defaultSleepStageNames,
	}
}

// WithTempDir 指定解压用的临时目录。
func (a *VendorArchiveAdapter) WithTempDir(dir string) *VendorArchiveAdapter {
	if strings.TrimSpace(dir) != "" {
		a.tmpDir = dir
	}
	return a
}

// Name 返回来源标识。
func (a *VendorArchiveAdapter) Name() string {
	return SourceVendorExport
}

// 归档内各表的行结构，毫秒 epoch 保持原样读出。
type archiveStepRow struct {
	StartTime int64 `gorm:"column:start_time"`
	Count     int   `gorm:"column:count"`
}

type archiveSleepRow struct {
	StartTime int64 `gorm:"column:start_time"`
	EndTime   int64 `gorm:"column:end_time"`
	Stage     int   `gorm:"column:stage"`
}

type archiveStageTypeRow struct {
	Stage int    `gorm:"column:stage"`
	Name  string `gorm:"column:name"`
}

type archiveHeartRateRow struct {
	Timestamp int64   `gorm:"column:timestamp"`
	BPM       float64 `gorm:"column:bpm"`
}

type archiveWeightRow struct {
	Timestamp   int64    `gorm:"column:timestamp"`
	Weight      float64  `gorm:"column:weight"`
	BodyFat     *float64 `gorm:"column:body_fat"`
	MuscleMass  *float64 `gorm:"column:muscle_mass"`
	BMI         *float64 `gorm:"column:bmi"`
	VisceralFat *float64 `gorm:"column:visceral_fat"`
}

type archiveBloodPressureRow struct {
	Timestamp int64 `gorm:"column:timestamp"`
	Systolic  int   `gorm:"column:systolic"`
	Diastolic int   `gorm:"column:diastolic"`
}

type archiveOxygenRow struct {
	Timestamp int64   `gorm:"column:timestamp"`
	SpO2      float64 `gorm:"column:spo2"`
}

// Extract 解压归档、打开数据库并聚合出逐日原始记录与数据点。
// 临时解压文件在任何路径下都会被清理。
func (a *VendorArchiveAdapter) Extract(ctx context.Context, userID uint) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(a.tmpDir, "vendor-archive-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dbPath, err := a.extractDatabase(workDir)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	defer func() {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			sqlDB.Close()
		}
	}()

	extraction := &Extraction{FilesProcessed: 1}
	builder := newDayFieldBuilder(a.loc)

	a.collectSteps(gdb, userID, builder, extraction)
	a.collectSleep(gdb, builder, extraction)
	a.collectHeartRate(gdb, userID, builder, extraction)
	a.collectWeight(gdb, builder, extraction)
	a.collectBloodPressure(gdb, builder, extraction)
	a.collectOxygen(gdb, builder, extraction)

	extraction.Records = builder.records(userID, SourceVendorExport)
	return extraction, nil
}

// extractDatabase 解压出第一个 .db 文件，累计解压量受上限约束。
func (a *VendorArchiveAdapter) extractDatabase(workDir string) (string, error) {
	reader, err := zip.OpenReader(a.archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	var total int64
	dbPath := ""

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		total += int64(file.UncompressedSize64)
		if total > a.maxArchiveBytes {
			return "", ErrArchiveTooLarge
		}
		if dbPath != "" || !strings.HasSuffix(strings.ToLower(file.Name), ".db") {
			continue
		}

		dst := filepath.Join(workDir, filepath.Base(file.Name))
		if err := copyArchiveFile(file, dst, a.maxArchiveBytes); err != nil {
			return "", fmt.Errorf("extract %s: %w", file.Name, err)
		}
		dbPath = dst
	}

	if dbPath == "" {
		return "", ErrArchiveNoDatabase
	}
	return dbPath, nil
}

func copyArchiveFile(file *zip.File, dst string, limit int64) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, io.LimitReader(src, limit))
	return err
}

// collectSteps 将步数分桶按日累加，同时保留原始分桶为数据点。
func (a *VendorArchiveAdapter) collectSteps(gdb *gorm.DB, userID uint, builder *dayFieldBuilder, out *Extraction) {
	if !gdb.Migrator().HasTable("step_count") {
		return
	}
	var rows []archiveStepRow
	if err := gdb.Table("step_count").Order("start_time ASC").Scan(&rows).Error; err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("step_count: %v", err))
		return
	}

	for _, row := range rows {
		ts := time.UnixMilli(row.StartTime)
		day := civilDay(ts, a.loc)
		builder.sumInt(day, "steps", row.Count, ts)
		builder.addPoint(day, db.DataPoint{
			UserID:    userID,
			DataType:  "steps",
			StartTime: ts,
			Value:     float64(row.Count),
			Unit:      "count",
			SourceApp: SourceVendorExport,
		})
	}
}

// collectSleep 把睡眠分段按归属夜聚合为时长/深浅睡/醒来次数。
// 阶段编码映射优先来自归档内的 sleep_stage_type 表。
func (a *VendorArchiveAdapter) collectSleep(gdb *gorm.DB, builder *dayFieldBuilder, out *Extraction) {
	if !gdb.Migrator().HasTable("sleep_stage") {
		return
	}

	stageNames := a.loadStageNames(gdb)

	var rows []archiveSleepRow
	if err := gdb.Table("sleep_stage").Order("start_time ASC").Scan(&rows).Error; err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("sleep_stage: %v", err))
		return
	}

	type nightAgg struct {
		total, deep, rem, light int
		wakes                   int
		lastTS                  time.Time
	}
	nights := make(map[time.Time]*nightAgg)

	for _, row := range rows {
		start := time.UnixMilli(row.StartTime)
		end := time.UnixMilli(row.EndTime)
		if !end.After(start) {
			out.FileErrors = append(out.FileErrors, fmt.Sprintf("sleep_stage: segment end before start at %d", row.StartTime))
			continue
		}

		night := sleepCalendarDay(start, a.loc)
		agg := nights[night]
		if agg == nil {
			agg = &nightAgg{}
			nights[night] = agg
		}

		minutes := int(math.Round(end.Sub(start).Minutes()))
		switch stageNames[row.Stage] {
		case "awake":
			agg.wakes++
		case "deep":
			agg.deep += minutes
			agg.total += minutes
		case "rem":
			agg.rem += minutes
			agg.total += minutes
		case "light":
			agg.light += minutes
			agg.total += minutes
		default:
			// 未知阶段编码只计入总时长
			agg.total += minutes
		}
		if end.After(agg.lastTS) {
			agg.lastTS = end
		}
	}

	for night, agg := range nights {
		builder.setInt(night, "sleep_duration_minutes", agg.total, agg.lastTS)
		builder.setInt(night, "deep_sleep_minutes", agg.deep, agg.lastTS)
		builder.setInt(night, "rem_sleep_minutes", agg.rem, agg.lastTS)
		builder.setInt(night, "light_sleep_minutes", agg.light, agg.lastTS)
		builder.setInt(night, "wake_events", agg.wakes, agg.lastTS)
	}
}

// loadStageNames 读取归档内的阶段映射表，缺表时回退到内置映射。
func (a *VendorArchiveAdapter) loadStageNames(gdb *gorm.DB) map[int]string {
	if !gdb.Migrator().HasTable("sleep_stage_type") {
		return a.stageNames
	}
	var rows []archiveStageTypeRow
	if err := gdb.Table("sleep_stage_type").Scan(&rows).Error; err != nil || len(rows) == 0 {
		return a.stageNames
	}
	names := make(map[int]string, len(rows))
	for _, row := range rows {
		names[row.Stage] = strings.ToLower(strings.TrimSpace(row.Name))
	}
	return names
}

// collectHeartRate 取每日静息心率样本的均值，并保留逐条样本为数据点。
func (a *VendorArchiveAdapter) collectHeartRate(gdb *gorm.DB, userID uint, builder *dayFieldBuilder, out *Extraction) {
	if !gdb.Migrator().HasTable("heart_rate") {
		return
	}
	var rows []archiveHeartRateRow
	if err := gdb.Table("heart_rate").Order("timestamp ASC").Scan(&rows).Error; err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("heart_rate: %v", err))
		return
	}

	type hrAgg struct {
		sum    float64
		count  int
		lastTS time.Time
	}
	days := make(map[time.Time]*hrAgg)

	for _, row := range rows {
		ts := time.UnixMilli(row.Timestamp)
		day := civilDay(ts, a.loc)
		agg := days[day]
		if agg == nil {
			agg = &hrAgg{}
			days[day] = agg
		}
		agg.sum += row.BPM
		agg.count++
		if ts.After(agg.lastTS) {
			agg.lastTS = ts
		}

		builder.addPoint(day, db.DataPoint{
			UserID:    userID,
			DataType:  "heart_rate",
			StartTime: ts,
			Value:     row.BPM,
			Unit:      "bpm",
			SourceApp: SourceVendorExport,
		})
	}

	for day, agg := range days {
		builder.setInt(day, "resting_heart_rate", int(math.Round(agg.sum/float64(agg.count))), agg.lastTS)
	}
}

// collectWeight 每日取最新一条体成分记录（按时间升序扫描，后写覆盖）。
func (a *VendorArchiveAdapter) collectWeight(gdb *gorm.DB, builder *dayFieldBuilder, out *Extraction) {
	if !gdb.Migrator().HasTable("weight_measurement") {
		return
	}
	var rows []archiveWeightRow
	if err := gdb.Table("weight_measurement").Order("timestamp ASC").Scan(&rows).Error; err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("weight_measurement: %v", err))
		return
	}
	for _, row := range rows {
		ts := time.UnixMilli(row.Timestamp)
		day := civilDay(ts, a.loc)
		builder.setFloat(day, "weight", row.Weight, ts)
		if row.BodyFat != nil {
			builder.setFloat(day, "body_fat", *row.BodyFat, ts)
		}
		if row.MuscleMass != nil {
			builder.setFloat(day, "muscle_mass", *row.MuscleMass, ts)
		}
		if row.BMI != nil {
			builder.setFloat(day, "bmi", *row.BMI, ts)
		}
		if row.VisceralFat != nil {
			builder.setFloat(day, "visceral_fat", *row.VisceralFat, ts)
		}
	}
}

func (a *VendorArchiveAdapter) collectBloodPressure(gdb *gorm.DB, builder *dayFieldBuilder, out *Extraction) {
	if !gdb.Migrator().HasTable("blood_pressure") {
		return
	}
	var rows []archiveBloodPressureRow
	if err := gdb.Table("blood_pressure").Order("timestamp ASC").Scan(&rows).Error; err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("blood_pressure: %v", err))
		return
	}
	for _, row := range rows {
		ts := time.UnixMilli(row.Timestamp)
		day := civilDay(ts, a.loc)
		builder.setInt(day, "blood_pressure_systolic", row.Systolic, ts)
		builder.setInt(day, "blood_pressure_diastolic", row.Diastolic, ts)
	}
}

func (a *VendorArchiveAdapter) collectOxygen(gdb *gorm.DB, builder *dayFieldBuilder, out *Extraction) {
	if !gdb.Migrator().HasTable("oxygen_saturation") {
		return
	}
	var rows []archiveOxygenRow
	if err := gdb.Table("oxygen_saturation").Order("timestamp ASC").Scan(&rows).Error; err != nil {
		out.FileErrors = append(out.FileErrors, fmt.Sprintf("oxygen_saturation: %v", err))
		return
	}
	for _, row := range rows {
		ts := time.UnixMilli(row.Timestamp)
		day := civilDay(ts, a.loc)
		builder.setFloat(day, "oxygen_saturation", row.SpO2, ts)
	}
}

// dayFieldBuilder 把多张表的读数聚合为逐日原始记录。
type dayFieldBuilder struct {
	loc  *time.Location
	days map[time.Time]*dayAggregate
}

type dayAggregate struct {
	fields     map[string]any
	points     []db.DataPoint
	measuredAt time.Time
}

func newDayFieldBuilder(loc *time.Location) *dayFieldBuilder {
	return &dayFieldBuilder{loc: loc, days: make(map[time.Time]*dayAggregate)}
}

func (b *dayFieldBuilder) day(day time.Time) *dayAggregate {
	agg := b.days[day]
	if agg == nil {
		agg = &dayAggregate{fields: make(map[string]any)}
		b.days[day] = agg
	}
	return agg
}

func (b *dayFieldBuilder) touch(agg *dayAggregate, ts time.Time) {
	if ts.After(agg.measuredAt) {
		agg.measuredAt = ts
	}
}

func (b *dayFieldBuilder) sumInt(day time.Time, field string, v int, ts time.Time) {
	agg := b.day(day)
	if prev, ok := agg.fields[field].(int); ok {
		v += prev
	}
	agg.fields[field] = v
	b.touch(agg, ts)
}

func (b *dayFieldBuilder) setInt(day time.Time, field string, v int, ts time.Time) {
	agg := b.day(day)
	agg.fields[field] = v
	b.touch(agg, ts)
}

func (b *dayFieldBuilder) setFloat(day time.Time, field string, v float64, ts time.Time) {
	agg := b.day(day)
	agg.fields[field] = v
	b.touch(agg, ts)
}

func (b *dayFieldBuilder) addPoint(day time.Time, point db.DataPoint) {
	b.day(day).points = append(b.day(day).points, point)
}

// records 输出按日期排序的抽取记录，日期写入字段表供映射解析。
func (b *dayFieldBuilder) records(userID uint, source string) []ExtractedRecord {
	days := make([]time.Time, 0, len(b.days))
	for day := range b.days {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	records := make([]ExtractedRecord, 0, len(days))
	for _, day := range days {
		agg := b.days[day]
		fields := agg.fields
		fields["date"] = day.Format("2006-01-02")

		measuredAt := agg.measuredAt
		if measuredAt.IsZero() {
			measuredAt = day
		}

		records = append(records, ExtractedRecord{
			Raw: RawRecord{
				Source:     source,
				UserID:     userID,
				Fields:     fields,
				MeasuredAt: measuredAt,
			},
			Points: agg.points,
		})
	}
	return records
}
