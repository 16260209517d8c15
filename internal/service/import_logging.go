package service

import (
	"log"
	"strings"
	"time"
	"unicode/utf8"
)

const maxImportLogSnippetRunes = 512

// logMergeDecision 输出一次字段仲裁结果，覆盖与拒绝都会留痕。
func logMergeDecision(userID uint, date time.Time, field, source, reason string, overwrite bool) {
	verdict := "reject"
	if overwrite {
		verdict = "apply"
	}
	log.Printf("[MERGE %s] user=%d date=%s field=%s source=%s reason=%s",
		verdict, userID, date.Format("2006-01-02"), field, source, reason)
}

// logUnitRepair 输出单位修复启发式的触发详情，便于发现数据质量回归。
func logUnitRepair(userID uint, date time.Time, w MapperWarning) {
	log.Printf("[UNIT-REPAIR] user=%d date=%s field=%s rule=%s raw=%.1f repaired=%.1f",
		userID, date.Format("2006-01-02"), w.Field, w.Rule, w.Raw, w.Repaired)
}

// logImportSnippet 截断后输出导入过程中的错误内容，避免日志爆量。
func logImportSnippet(source, phase, content string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Printf("[IMPORT %s] %s: <empty>", source, phase)
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxImportLogSnippetRunes {
		snippet = string([]rune(trimmed)[:maxImportLogSnippetRunes]) + "…(truncated)"
	}
	log.Printf("[IMPORT %s] %s: %s", source, phase, snippet)
}
