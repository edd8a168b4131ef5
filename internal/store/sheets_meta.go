package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ratebook/internal/model"
)

// insertSheetMeta 写入 Sheet 元信息（用于追溯）
func insertSheetMeta(ctx context.Context, tx *sql.Tx, batchID string, sheets []model.SheetMeta) error {
	for _, meta := range sheets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sheets_meta (
				batch_id, sheet_name, format, confidence,
				total_rows, total_columns, imported_rows,
				layout_json, status, message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			batchID, meta.SheetName, string(meta.Format), meta.Confidence,
			meta.TotalRows, meta.TotalColumns, meta.ImportedRows,
			meta.LayoutJSON, meta.Status, meta.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sheets_meta: %w", err)
		}
	}
	return nil
}

// ListSheetMeta 查询批次的 sheet 元信息
func (s *Store) ListSheetMeta(ctx context.Context, batchID string) ([]model.SheetMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sheet_name, format, confidence, total_rows, total_columns, imported_rows, layout_json, status, message
		FROM sheets_meta
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets_meta: %w", err)
	}
	defer rows.Close()

	var out []model.SheetMeta
	for rows.Next() {
		var (
			m      model.SheetMeta
			format string
		)
		if err := rows.Scan(&m.SheetName, &format, &m.Confidence, &m.TotalRows, &m.TotalColumns,
			&m.ImportedRows, &m.LayoutJSON, &m.Status, &m.Message); err != nil {
			return nil, fmt.Errorf("failed to scan sheets_meta: %w", err)
		}
		m.Format = model.SheetFormat(format)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheets_meta: %w", err)
	}
	return out, nil
}

// BuildLayoutJSON 将 sheet 识别结构序列化为 JSON（表头映射或矩阵几何）
func BuildLayoutJSON(a model.SheetAnalysis) string {
	var v any
	switch l := a.Layout.(type) {
	case model.TabularLayout:
		v = struct {
			HeaderRow int                   `json:"headerRow"`
			Columns   []model.ColumnMapping `json:"columns"`
		}{l.HeaderRow, l.Columns}
	case model.MatrixLayout:
		v = l.Info
	default:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
