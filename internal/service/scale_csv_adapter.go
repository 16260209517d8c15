package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ErrCSVNoHeader 在 CSV 文件缺少表头行时返回
var ErrCSVNoHeader = errors.New("csv file has no header row")

// ScaleCSVAdapter 解析体脂秤导出的 CSV：表头 + 逗号分隔的数据行。
// 表头列名直接作为来源字段名交给别名解析表。
type ScaleCSVAdapter struct {
	path string
	loc  *time.Location
}

// NewScaleCSVAdapter 构造体脂秤 CSV 适配器。loc 为空时使用 time.Local。
func NewScaleCSVAdapter(path string, loc *time.Location) *ScaleCSVAdapter {
	if loc == nil {
		loc = time.Local
	}
	return &ScaleCSVAdapter{path: path, loc: loc}
}

// Name 返回来源标识。
func (a *ScaleCSVAdapter) Name() string {
	return SourceScaleCSV
}

// Extract 逐行解析 CSV，坏行跳过并记入错误列表。
func (a *ScaleCSVAdapter) Extract(ctx context.Context, userID uint) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	return a.extractFrom(file, userID)
}

func (a *ScaleCSVAdapter) extractFrom(r io.Reader, userID uint) (*Extraction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// 列数不齐的行自行处理，不让 reader 直接报错
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, ErrCSVNoHeader
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	extraction := &Extraction{FilesProcessed: 1}
	line := 1

	for {
		line++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			extraction.FileErrors = append(extraction.FileErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(row) != len(header) {
			extraction.FileErrors = append(extraction.FileErrors, fmt.Sprintf("line %d: expected %d columns, got %d", line, len(header), len(row)))
			continue
		}

		fields := make(map[string]any, len(header))
		for i, name := range header {
			value := strings.TrimSpace(row[i])
			if value == "" {
				continue
			}
			fields[name] = value
		}
		if len(fields) == 0 {
			continue
		}

		raw := RawRecord{
			Source: SourceScaleCSV,
			UserID: userID,
			Fields: fields,
		}
		if ts, ok := parseTimeValue(fields["timestamp"], a.loc); ok {
			raw.MeasuredAt = ts
		} else if ts, ok := parseTimeValue(fields["date"], a.loc); ok {
			raw.MeasuredAt = ts
		}

		extraction.Records = append(extraction.Records, ExtractedRecord{Raw: raw})
	}

	return extraction, nil
}
