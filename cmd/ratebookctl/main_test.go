package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"ratebook/internal/config"
	"ratebook/internal/exporter"
	"ratebook/internal/model"
)

func writeRatebook(t *testing.T, path string) {
	t.Helper()

	otr := int64(3150000)
	var rates []model.ParsedRate
	for i, mileage := range []int{5000, 8000, 10000, 15000, 20000} {
		rates = append(rates, model.ParsedRate{
			CapCode: "VWGO15TS55HPTM", Manufacturer: "Volkswagen", Model: "Golf", Variant: "1.5 TSI Life",
			Term: 48, AnnualMileage: mileage, InitialMonths: 6, PaymentProfileLabel: "6+47",
			ContractType: model.ContractHire, MonthlyRental: int64(29900 + i*1000), IsMaintained: true,
			OTR: &otr, SourceSheet: "Rates", SourceRow: i + 2, SourceCol: 12,
		})
	}
	f, err := exporter.ExportRates(rates)
	if err != nil {
		t.Fatalf("ExportRates: %v", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
}

func runCtl(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", filepath.Join(dir, "config.toml"), "--data-dir", dir, "--driver", "sqlite"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRatebookctl_ImportLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "golf.xlsx")
	writeRatebook(t, input)

	out, err := runCtl(t, dir, "analyze", "--offline", input)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var analysis model.AnalysisResult
	if err := json.Unmarshal([]byte(out), &analysis); err != nil {
		t.Fatalf("decode analysis: %v (%s)", err, out)
	}
	if analysis.Detection.Format != model.FormatTabular || analysis.TotalRates != 5 {
		t.Fatalf("analysis got format=%s rates=%d", analysis.Detection.Format, analysis.TotalRates)
	}

	out, err = runCtl(t, dir, "import", "--provider", "LEX", input)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	var first model.SmartImportResult
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decode import: %v (%s)", err, out)
	}
	if !first.Success || first.BatchID == "" || first.SuccessRates != 5 {
		t.Fatalf("import got=%+v", first)
	}

	if _, err := runCtl(t, dir, "import", "--provider", "LEX", input); err == nil {
		t.Fatalf("second import should be rejected as duplicate")
	}

	out, err = runCtl(t, dir, "import", "--provider", "LEX", "--force", input)
	if err != nil {
		t.Fatalf("forced import: %v", err)
	}
	var forced model.SmartImportResult
	if err := json.Unmarshal([]byte(out), &forced); err != nil {
		t.Fatalf("decode forced import: %v", err)
	}
	if forced.BatchID == "" || forced.BatchID == first.BatchID {
		t.Fatalf("forced import batch got=%q first=%q", forced.BatchID, first.BatchID)
	}

	out, err = runCtl(t, dir, "batches", "--provider", "LEX")
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	var batches []model.ImportBatch
	if err := json.Unmarshal([]byte(out), &batches); err != nil {
		t.Fatalf("decode batches: %v", err)
	}
	if len(batches) != 1 || batches[0].BatchID != forced.BatchID {
		t.Fatalf("batches got=%+v", batches)
	}

	exported := filepath.Join(dir, "export.xlsx")
	if _, err := runCtl(t, dir, "export", "--batch", forced.BatchID, "-o", exported); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenFile(exported)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exporter.RatesSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("exported rows got=%d want=6", len(rows))
	}

	out, err = runCtl(t, dir, "analyze", input)
	if err != nil {
		t.Fatalf("analyze online: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &analysis); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if analysis.DuplicateOf != forced.BatchID {
		t.Fatalf("duplicateOf got=%q want=%q", analysis.DuplicateOf, forced.BatchID)
	}
}

func TestRatebookctl_RequiresProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "golf.xlsx")
	writeRatebook(t, input)

	if _, err := runCtl(t, dir, "import", input); err == nil {
		t.Fatalf("import without --provider should fail")
	}
	if _, err := runCtl(t, dir, "export"); err == nil {
		t.Fatalf("export without --batch should fail")
	}
}

func TestRatebookctl_ConfigRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "written.toml")
	if _, err := runCtl(t, dir, "config", "-o", out); err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := runCtl(t, dir, "config", "-o", out); err == nil {
		t.Fatalf("second write without --overwrite should fail")
	}

	cfg, _, err := config.LoadFrom(out)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Data.DataDir != dir || cfg.Data.Driver != "sqlite" || cfg.Import.StaleAfter.Duration != 30*time.Minute {
		t.Fatalf("written config got=%+v", cfg)
	}
}
