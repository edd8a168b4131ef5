package parser

import (
	"ratebook/internal/model"
	"ratebook/internal/vocab"
)

// MapHeaderRow 将一行表头映射为列映射；未识别的非空表头也保留（TargetField 为 nil）
func MapHeaderRow(v *vocab.Vocabulary, grid model.RawSheetGrid, row int) []model.ColumnMapping {
	var mappings []model.ColumnMapping
	for col := 0; col < grid.RowWidth(row); col++ {
		text := grid.Cell(row, col)
		if text == "" {
			continue
		}
		m := model.ColumnMapping{
			SourceColumnIndex: col,
			SourceHeaderText:  text,
		}
		if field, conf, ok := v.MatchHeader(text); ok {
			f := field
			m.TargetField = &f
			m.Confidence = conf
		}
		mappings = append(mappings, m)
	}
	return mappings
}

// distinctFields 命中的不同字段数
func distinctFields(mappings []model.ColumnMapping) int {
	seen := make(map[model.TargetField]bool)
	for _, m := range mappings {
		if f, ok := m.Field(); ok {
			seen[f] = true
		}
	}
	return len(seen)
}

// fieldColumns 字段 → 列号；同一字段多列命中时取置信度最高者，同分取最左列
func fieldColumns(mappings []model.ColumnMapping) map[model.TargetField]int {
	cols := make(map[model.TargetField]int)
	conf := make(map[model.TargetField]int)
	for _, m := range mappings {
		f, ok := m.Field()
		if !ok {
			continue
		}
		if prev, exists := conf[f]; exists && prev >= m.Confidence {
			continue
		}
		cols[f] = m.SourceColumnIndex
		conf[f] = m.Confidence
	}
	return cols
}

func hasField(mappings []model.ColumnMapping, field model.TargetField) bool {
	for _, m := range mappings {
		if f, ok := m.Field(); ok && f == field {
			return true
		}
	}
	return false
}
