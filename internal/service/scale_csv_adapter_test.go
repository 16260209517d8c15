package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScaleCSVAdapterExtract(t *testing.T) {
	data := strings.Join([]string{
		"date,weight,body_fat,steps",
		"2024-03-10,70.5,21.3,8000",
		"2024-03-11,71.0",
		"2024-03-12,70.8,,7500",
		"",
	}, "\n")

	adapter := NewScaleCSVAdapter("", time.UTC)
	extraction, err := adapter.extractFrom(strings.NewReader(data), 1)
	if err != nil {
		t.Fatalf("extractFrom returned error: %v", err)
	}

	if extraction.FilesProcessed != 1 {
		t.Fatalf("expected 1 file processed, got %d", extraction.FilesProcessed)
	}
	// 列数不齐的行只计入错误，不中断解析
	if len(extraction.FileErrors) != 1 || !strings.Contains(extraction.FileErrors[0], "line 3") {
		t.Fatalf("expected line 3 error, got %v", extraction.FileErrors)
	}
	if len(extraction.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(extraction.Records))
	}

	first := extraction.Records[0].Raw
	if first.Source != SourceScaleCSV {
		t.Fatalf("unexpected source: %s", first.Source)
	}
	if first.Fields["weight"] != "70.5" || first.Fields["body_fat"] != "21.3" {
		t.Fatalf("unexpected fields: %+v", first.Fields)
	}
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if !first.MeasuredAt.Equal(want) {
		t.Fatalf("expected measured at %v, got %v", want, first.MeasuredAt)
	}

	// 空单元格不产生字段
	third := extraction.Records[1].Raw
	if _, present := third.Fields["body_fat"]; present {
		t.Fatalf("expected empty cell skipped, got %+v", third.Fields)
	}
}

func TestScaleCSVAdapterHeaderRequired(t *testing.T) {
	adapter := NewScaleCSVAdapter("", time.UTC)
	if _, err := adapter.extractFrom(strings.NewReader(""), 1); !errors.Is(err, ErrCSVNoHeader) {
		t.Fatalf("expected ErrCSVNoHeader, got %v", err)
	}
}

func TestScaleCSVAdapterMissingFile(t *testing.T) {
	adapter := NewScaleCSVAdapter(filepath.Join(t.TempDir(), "missing.csv"), time.UTC)
	if _, err := adapter.Extract(context.Background(), 1); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestScaleCSVAdapterEndToEnd(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	store := NewDayStore(gdb, nil)
	svc := NewImportService(NewFieldMapper(time.UTC), store)

	adapter := NewScaleCSVAdapter("", time.UTC)
	extraction, err := adapter.extractFrom(strings.NewReader("date,weight,bmi\n2024-03-10,70.5,2510\n"), 1)
	if err != nil {
		t.Fatalf("extractFrom returned error: %v", err)
	}

	summary, err := svc.Run(context.Background(), &fakeAdapter{name: SourceScaleCSV, extraction: extraction}, 1)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.RecordsMerged != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// 单位修复在管线里生效
	record, err := store.GetForDate(1, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetForDate returned error: %v", err)
	}
	if record.BMI == nil || !almostEqual(*record.BMI, 2.5) {
		t.Fatalf("expected repaired bmi 2.5, got %v", record.BMI)
	}
}
