package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"ratebook/internal/model"
	"ratebook/internal/parser"
	"ratebook/internal/store"
)

type testSheet struct {
	name string
	rows [][]any
}

func buildWorkbook(t *testing.T, sheets ...testSheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })

	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			t.Fatalf("new sheet %s: %v", s.name, err)
		}
		for i, row := range s.rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
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

func tabularSheet(name, capCode, rental string) testSheet {
	return testSheet{name: name, rows: [][]any{
		{"Ford Ratebook January"},
		{"CAP Code", "Manufacturer", "Model", "Term", "Mileage", "Rental"},
		{capCode, "Ford", "Focus", "36", "10000", rental},
	}}
}

func matrixSheet(name string) testSheet {
	return testSheet{name: name, rows: [][]any{
		{nil, "5000", "10000"},
		{"1+23", "300", "280"},
		{"3+21", "295", "275"},
		{"6+18", "290", "270"},
	}}
}

func ambiguousSheet() testSheet {
	return testSheet{name: "Notes", rows: [][]any{
		{"Manufacturer", "Model", "Comments"},
		{"Ford", "Focus", "ok"},
		{"Kia", "Ceed", "ok"},
	}}
}

func newSQLiteCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "ratebook.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewCoordinator(st, nil, parser.DefaultConfig(), Settings{}), st
}

func TestRun_TabularWithAmbiguousSheet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, st := newSQLiteCoordinator(t)
	data := buildWorkbook(t, tabularSheet("Rates", "ABC123X", "250.00"), ambiguousSheet())

	res, err := c.Run(ctx, ImportOptions{FileName: "ald.xlsx", Data: data, ProviderCode: "ALD"})
	if err != nil {
		t.Fatalf("Run: %v (errors=%v)", err, res.Errors)
	}
	if !res.Success || res.Format != model.FormatTabular {
		t.Fatalf("result got success=%v format=%s", res.Success, res.Format)
	}
	if res.TotalSheets != 2 || res.ProcessedSheets != 1 || res.SuccessRates != 1 {
		t.Fatalf("counts got sheets=%d processed=%d rates=%d", res.TotalSheets, res.ProcessedSheets, res.SuccessRates)
	}
	r := res.Rates[0]
	if r.CapCode != "ABC123X" || r.Term != 36 || r.AnnualMileage != 10000 || r.MonthlyRental != 25000 {
		t.Fatalf("rate got=%+v", r)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], `"Notes"`) {
		t.Fatalf("warnings got=%v", res.Warnings)
	}

	batch, err := st.GetBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Status != model.BatchCompleted || !batch.IsLatest || batch.ContractType != model.ContractHire || batch.FileHash != Fingerprint(data) {
		t.Fatalf("batch got=%+v", batch)
	}
	metas, err := st.ListSheetMeta(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("ListSheetMeta: %v", err)
	}
	statuses := map[string]string{}
	for _, m := range metas {
		statuses[m.SheetName] = m.Status
	}
	if statuses["Rates"] != "imported" || statuses["Notes"] != "skipped" {
		t.Fatalf("sheet statuses got=%v", statuses)
	}
}

func TestRun_DuplicateThenForce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, st := newSQLiteCoordinator(t)
	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))
	opts := ImportOptions{FileName: "lex.xlsx", Data: data, ProviderCode: "LEX"}

	first, err := c.Run(ctx, opts)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.SuccessRates != 6 {
		t.Fatalf("first rates got=%d want=6", first.SuccessRates)
	}

	second, err := c.Run(ctx, opts)
	if !errors.Is(err, ErrDuplicateImport) {
		t.Fatalf("second Run err=%v want=%v", err, ErrDuplicateImport)
	}
	if second.Success || len(second.Rates) != 0 || len(second.Errors) != 1 {
		t.Fatalf("duplicate result got=%+v", second)
	}
	batches, err := st.ListBatches(ctx, "LEX", 10)
	if err != nil || len(batches) != 1 {
		t.Fatalf("batches after duplicate got=%d err=%v", len(batches), err)
	}

	opts.Force = true
	third, err := c.Run(ctx, opts)
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if third.BatchID == first.BatchID {
		t.Fatalf("forced import reused batch id %s", third.BatchID)
	}
	if _, err := st.GetBatch(ctx, first.BatchID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old batch err=%v want=%v", err, store.ErrNotFound)
	}
	rates, err := st.ListRates(ctx, third.BatchID, 100, 0)
	if err != nil || len(rates) != 6 {
		t.Fatalf("rates after force got=%d err=%v", len(rates), err)
	}
}

func TestRun_MinoritySheetSkipped(t *testing.T) {
	t.Parallel()

	c, _ := newSQLiteCoordinator(t)
	data := buildWorkbook(t,
		tabularSheet("Rates A", "ABC123X", "250.00"),
		tabularSheet("Rates B", "XYZ789A", "199.99"),
		matrixSheet("Ford Focus ST-Line"),
	)

	res, err := c.Run(context.Background(), ImportOptions{FileName: "mixed.xlsx", Data: data, ProviderCode: "ALD"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Detection == nil || res.Detection.Confidence != 70 || res.Format != model.FormatTabular {
		t.Fatalf("detection got=%+v", res.Detection)
	}
	if res.SuccessRates != 2 || res.ProcessedSheets != 2 {
		t.Fatalf("rates got=%d processed=%d", res.SuccessRates, res.ProcessedSheets)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "classified as matrix") {
		t.Fatalf("warnings got=%v", res.Warnings)
	}
}

func TestRun_StructuralErrors(t *testing.T) {
	t.Parallel()

	unknown := buildWorkbook(t, ambiguousSheet())
	valid := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))

	cases := []struct {
		name string
		opts ImportOptions
		want error
	}{
		{"missing provider", ImportOptions{Data: valid}, ErrMissingProvider},
		{"bad contract type", ImportOptions{Data: valid, ProviderCode: "ALD", ContractType: "HP"}, ErrInvalidContractType},
		{"empty", ImportOptions{ProviderCode: "ALD"}, ErrEmptyFile},
		{"unreadable", ImportOptions{Data: []byte("not a workbook"), ProviderCode: "ALD"}, ErrUnreadableWorkbook},
		{"unknown format", ImportOptions{Data: unknown, ProviderCode: "ALD"}, ErrUnknownFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{}
			c := NewCoordinator(fs, nil, parser.DefaultConfig(), Settings{})
			res, err := c.Run(context.Background(), tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err got=%v want=%v", err, tc.want)
			}
			if res.Success || len(res.Errors) == 0 {
				t.Fatalf("result got=%+v", res)
			}
			if fs.claimed != nil || fs.completed != nil {
				t.Fatalf("store touched on structural error: claimed=%v completed=%v", fs.claimed, fs.completed)
			}
		})
	}
}

func TestRun_PriorBatchPolicy(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))

	cases := []struct {
		name         string
		prior        model.ImportBatch
		force        bool
		wantErr      error
		wantDeleted  bool
		wantReplaces string
	}{
		{"failed is retried", model.ImportBatch{BatchID: "old", Status: model.BatchFailed, CreatedAt: now}, false, nil, true, ""},
		{"stale processing is retried", model.ImportBatch{BatchID: "old", Status: model.BatchProcessing, CreatedAt: now.Add(-time.Hour)}, false, nil, true, ""},
		{"fresh processing is duplicate", model.ImportBatch{BatchID: "old", Status: model.BatchProcessing, CreatedAt: now.Add(-time.Minute)}, true, ErrDuplicateImport, false, ""},
		{"completed is duplicate", model.ImportBatch{BatchID: "old", Status: model.BatchCompleted, CreatedAt: now}, false, ErrDuplicateImport, false, ""},
		{"completed with force is replaced at commit", model.ImportBatch{BatchID: "old", Status: model.BatchCompleted, CreatedAt: now}, true, nil, false, "old"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prior := tc.prior
			fs := &fakeStore{prior: &prior}
			c := NewCoordinator(fs, nil, parser.DefaultConfig(), Settings{StaleAfter: 30 * time.Minute})
			c.now = func() time.Time { return now }

			res, err := c.Run(context.Background(), ImportOptions{FileName: "f.xlsx", Data: data, ProviderCode: "ALD", Force: tc.force})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err got=%v want=%v", err, tc.wantErr)
			}
			deleted := len(fs.deleted) == 1 && fs.deleted[0] == "old"
			if deleted != tc.wantDeleted {
				t.Fatalf("deleted got=%v want=%v", fs.deleted, tc.wantDeleted)
			}
			if tc.wantErr == nil {
				if fs.completed == nil || len(fs.rates) != 6 {
					t.Fatalf("batch not completed: %+v rates=%d", fs.completed, len(fs.rates))
				}
				if fs.completed.Replaces != tc.wantReplaces {
					t.Fatalf("replaces got=%q want=%q", fs.completed.Replaces, tc.wantReplaces)
				}
				if !containsWarning(res.Warnings, "old") {
					t.Fatalf("warnings got=%v", res.Warnings)
				}
			} else if fs.claimed != nil {
				t.Fatalf("duplicate import claimed a batch")
			}
		})
	}
}

func TestRun_PersistFailureMarksBatchFailed(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{completeErr: errors.New("disk full")}
	c := NewCoordinator(fs, nil, parser.DefaultConfig(), Settings{})
	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))

	res, err := c.Run(context.Background(), ImportOptions{Data: data, ProviderCode: "ALD"})
	if err == nil || res.Success {
		t.Fatalf("expected persist failure, got res=%+v", res)
	}
	if fs.failed == "" || fs.failed != res.BatchID {
		t.Fatalf("failed batch got=%q want=%q", fs.failed, res.BatchID)
	}
}

// completeFailStore 在 armed 时让 CompleteBatch 失败，其余操作走真实 sqlite
type completeFailStore struct {
	*store.Store
	armed bool
}

func (s *completeFailStore) CompleteBatch(ctx context.Context, b *model.ImportBatch, rates []model.ParsedRate, sheets []model.SheetMeta) error {
	if s.armed {
		return errors.New("disk full")
	}
	return s.Store.CompleteBatch(ctx, b, rates, sheets)
}

func TestRun_ForcedReimportKeepsPriorBatchOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := store.New(filepath.Join(t.TempDir(), "ratebook.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	fs := &completeFailStore{Store: st}
	c := NewCoordinator(fs, nil, parser.DefaultConfig(), Settings{})

	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))
	opts := ImportOptions{FileName: "lex.xlsx", Data: data, ProviderCode: "LEX"}
	first, err := c.Run(ctx, opts)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	fs.armed = true
	opts.Force = true
	if _, err := c.Run(ctx, opts); err == nil {
		t.Fatalf("forced Run should fail when the commit fails")
	}

	kept, err := st.GetBatch(ctx, first.BatchID)
	if err != nil {
		t.Fatalf("prior batch lost after failed forced import: %v", err)
	}
	if kept.Status != model.BatchCompleted || !kept.IsLatest {
		t.Fatalf("prior batch got=%+v", kept)
	}
	rates, err := st.ListRates(ctx, first.BatchID, 100, 0)
	if err != nil || len(rates) != 6 {
		t.Fatalf("prior rates got=%d err=%v", len(rates), err)
	}

	fs.armed = false
	third, err := c.Run(ctx, opts)
	if err != nil {
		t.Fatalf("forced retry: %v", err)
	}
	if _, err := st.GetBatch(ctx, first.BatchID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("replaced batch err=%v want=%v", err, store.ErrNotFound)
	}
	batches, err := st.ListBatches(ctx, "LEX", 10)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	completed := 0
	for _, b := range batches {
		if b.Status == model.BatchCompleted {
			completed++
			if b.BatchID != third.BatchID || !b.IsLatest {
				t.Fatalf("completed batch got=%+v want=%s", b, third.BatchID)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("completed batches got=%d want=1 (%+v)", completed, batches)
	}
}

func TestRun_ContractOverrideSetsBatchType(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{}
	c := NewCoordinator(fs, nil, parser.DefaultConfig(), Settings{})
	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))

	res, err := c.Run(context.Background(), ImportOptions{Data: data, ProviderCode: "ALD", ContractType: "pch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fs.completed.ContractType != model.PersonalContractHire {
		t.Fatalf("batch contract got=%s want=PCH", fs.completed.ContractType)
	}
	for _, r := range res.Rates {
		if r.ContractType != model.PersonalContractHire {
			t.Fatalf("rate contract got=%s want=PCH", r.ContractType)
		}
	}
}

func TestImport_ProgressEvents(t *testing.T) {
	t.Parallel()

	c, _ := newSQLiteCoordinator(t)
	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"), ambiguousSheet())

	var types []string
	var result *model.SmartImportResult
	for ev := range c.Import(context.Background(), ImportOptions{FileName: "f.xlsx", Data: data, ProviderCode: "ALD"}) {
		types = append(types, ev.Type)
		if ev.Type == "error" {
			t.Fatalf("import error event: %s", ev.Message)
		}
		if ev.Type == "done" {
			result, _ = ev.Data.(*model.SmartImportResult)
		}
	}
	if result == nil || !result.Success || result.SuccessRates != 6 {
		t.Fatalf("done result got=%+v", result)
	}
	if types[0] != "start" || types[len(types)-1] != "done" {
		t.Fatalf("event order got=%v", types)
	}
	seen := map[string]bool{}
	for _, typ := range types {
		seen[typ] = true
	}
	if !seen["sheet_done"] || !seen["warning"] {
		t.Fatalf("missing sheet_done/warning events: %v", types)
	}
}

func TestImport_DuplicateEndsWithError(t *testing.T) {
	t.Parallel()

	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))
	fs := &fakeStore{prior: &model.ImportBatch{BatchID: "old", Status: model.BatchCompleted}}
	c := NewCoordinator(fs, nil, parser.DefaultConfig(), Settings{})

	var last ProgressEvent
	for ev := range c.Import(context.Background(), ImportOptions{Data: data, ProviderCode: "ALD"}) {
		last = ev
	}
	if last.Type != "error" || !strings.Contains(last.Message, "already been imported") {
		t.Fatalf("last event got=%+v", last)
	}
}

func TestAnalyze_PreviewWithoutWriting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := store.New(filepath.Join(t.TempDir(), "ratebook.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c := NewCoordinator(st, nil, parser.DefaultConfig(), Settings{PreviewLimit: 4})
	data := buildWorkbook(t, matrixSheet("Ford Focus ST-Line"))
	opts := ImportOptions{FileName: "lex.xlsx", Data: data, ProviderCode: "LEX"}

	preview, err := c.Analyze(ctx, opts)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if preview.Detection.Format != model.FormatMatrix || preview.TotalRates != 6 || len(preview.Rates) != 4 {
		t.Fatalf("preview got format=%s total=%d preview=%d", preview.Detection.Format, preview.TotalRates, len(preview.Rates))
	}
	if preview.DuplicateOf != "" {
		t.Fatalf("unexpected duplicate %s", preview.DuplicateOf)
	}
	if batches, _ := st.ListBatches(ctx, "", 10); len(batches) != 0 {
		t.Fatalf("analyze wrote %d batches", len(batches))
	}

	res, err := c.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	again, err := c.Analyze(ctx, opts)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if again.DuplicateOf != res.BatchID {
		t.Fatalf("duplicateOf got=%q want=%q", again.DuplicateOf, res.BatchID)
	}
}

func TestAnalyze_WithoutStore(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, parser.DefaultConfig(), Settings{})
	preview, err := c.Analyze(context.Background(), ImportOptions{Data: buildWorkbook(t, ambiguousSheet())})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if preview.Detection.Format != model.FormatUnknown || len(preview.Errors) != 1 {
		t.Fatalf("preview got=%+v", preview)
	}
}

func TestBatchContractType(t *testing.T) {
	t.Parallel()

	rates := []model.ParsedRate{
		{ContractType: model.ContractHire},
		{ContractType: model.PersonalContractHire},
		{ContractType: model.PersonalContractHire},
	}
	if got := batchContractType("", rates); got != model.PersonalContractHire {
		t.Fatalf("dominant got=%s want=PCH", got)
	}
	if got := batchContractType(model.SalarySacrifice, rates); got != model.SalarySacrifice {
		t.Fatalf("override got=%s want=BSSNL", got)
	}
	if got := batchContractType("", rates[:2]); got != model.ContractHire {
		t.Fatalf("tie got=%s want=CH", got)
	}
}

func containsWarning(warnings []string, sub string) bool {
	for _, w := range warnings {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

// fakeStore 内存版 BatchStore
type fakeStore struct {
	prior       *model.ImportBatch
	claimed     *model.ImportBatch
	completed   *model.ImportBatch
	rates       []model.ParsedRate
	deleted     []string
	failed      string
	completeErr error
}

func (f *fakeStore) FindBatchByHash(_ context.Context, _ string) (*model.ImportBatch, error) {
	if f.prior == nil {
		return nil, store.ErrNotFound
	}
	return f.prior, nil
}

func (f *fakeStore) ClaimBatch(_ context.Context, b *model.ImportBatch) error {
	b.Status = model.BatchProcessing
	f.claimed = b
	return nil
}

func (f *fakeStore) CompleteBatch(_ context.Context, b *model.ImportBatch, rates []model.ParsedRate, _ []model.SheetMeta) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = b
	f.rates = rates
	return nil
}

func (f *fakeStore) FailBatch(_ context.Context, batchID, _ string) error {
	f.failed = batchID
	return nil
}

func (f *fakeStore) DeleteBatch(_ context.Context, batchID string) error {
	f.deleted = append(f.deleted, batchID)
	f.prior = nil
	return nil
}
