package parser

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"ratebook/internal/model"
)

// LoadWorkbook 读取工作簿所有 sheet 的原始单元格（数值单元格按原始值读入，不套用显示格式）
func LoadWorkbook(data []byte) ([]model.RawSheetGrid, error) {
	return LoadWorkbookReader(bytes.NewReader(data))
}

// LoadWorkbookReader 从 reader 读取工作簿
func LoadWorkbookReader(r io.Reader) ([]model.RawSheetGrid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	grids := make([]model.RawSheetGrid, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		grids = append(grids, model.RawSheetGrid{Name: sheet, Rows: rows})
	}
	return grids, nil
}
