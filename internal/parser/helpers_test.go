package parser

import (
	"testing"

	"github.com/xuri/excelize/v2"

	"ratebook/internal/model"
	"ratebook/internal/vocab"
)

func grid(name string, rows ...[]string) model.RawSheetGrid {
	return model.RawSheetGrid{Name: name, Rows: rows}
}

func newTestClassifier() *Classifier {
	return NewClassifier(vocab.Default(), DefaultConfig())
}

func newTestExtractor() *Extractor {
	return NewExtractor(vocab.Default())
}

type testSheet struct {
	name string
	rows [][]any
}

// buildWorkbook 用 excelize 在内存里构造工作簿
func buildWorkbook(t *testing.T, sheets ...testSheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })

	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			t.Fatalf("new sheet %s: %v", s.name, err)
		}
		for i, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			r := row
			if err := f.SetSheetRow(s.name, cell, &r); err != nil {
				t.Fatalf("set row %s!%s: %v", s.name, cell, err)
			}
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		t.Fatalf("delete default sheet: %v", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}
