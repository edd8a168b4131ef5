package parser

import (
	"testing"

	"ratebook/internal/model"
)

func TestLoadWorkbook_RawValues(t *testing.T) {
	t.Parallel()

	data := buildWorkbook(t,
		testSheet{name: "Rates", rows: [][]any{
			{"CAP Code", "Term", "Mileage", "Rental"},
			{"ABC123X", 36, 10000, 250.5},
			{"ABC124X", 48, 8000, 199.99},
		}},
		testSheet{name: "Ford Focus", rows: [][]any{
			{"", "5000", "10000"},
			{"1+23", 300, 280},
			{"3+21", 295, 275},
			{"6+18", 290, 270},
		}},
	)

	grids, err := LoadWorkbook(data)
	if err != nil {
		t.Fatalf("LoadWorkbook: %v", err)
	}
	if len(grids) != 2 || grids[0].Name != "Rates" || grids[1].Name != "Ford Focus" {
		t.Fatalf("sheets got=%v", grids)
	}
	if got := grids[0].Cell(1, 3); got != "250.5" {
		t.Fatalf("raw numeric cell got=%q want=250.5", got)
	}
	if v, ok := ParseMoney(grids[0].Cell(2, 3)); !ok || v != 19999 {
		t.Fatalf("money got=(%d,%v) want=19999", v, ok)
	}

	det := newTestClassifier().ClassifyWorkbook(grids)
	if det.Format != model.FormatUnknown || det.Confidence != 30 {
		t.Fatalf("mixed workbook verdict got=%s/%d want=unknown/30", det.Format, det.Confidence)
	}
	if det.Sheets[0].Format() != model.FormatTabular || det.Sheets[1].Format() != model.FormatMatrix {
		t.Fatalf("per-sheet formats got=%s/%s", det.Sheets[0].Format(), det.Sheets[1].Format())
	}
}

func TestLoadWorkbook_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := LoadWorkbook([]byte("not a workbook")); err == nil {
		t.Fatalf("expected error for invalid bytes")
	}
}
