package exporter

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"ratebook/internal/model"
)

const (
	RatesSheet = "Rates"
	SheetsInfo = "Sheets"
	BatchInfo  = "Batch"

	pageSize = 1000
)

// RateSource 导出所需的只读存储能力
type RateSource interface {
	GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error)
	ListRates(ctx context.Context, batchID string, limit, offset int) ([]model.ParsedRate, error)
	ListSheetMeta(ctx context.Context, batchID string) ([]model.SheetMeta, error)
}

// Exporter 报价导出器：把一个导入批次写回 xlsx 供人工复核
//
// 导出的 Rates 表头与识别词表一致，文件可以再次导入。
type Exporter struct {
	store RateSource
}

// NewExporter 创建导出器
func NewExporter(store RateSource) *Exporter {
	return &Exporter{store: store}
}

// ExportOptions 导出选项
type ExportOptions struct {
	BatchID string
}

// Export 导出批次
func (e *Exporter) Export(ctx context.Context, opts ExportOptions, progress func(ProgressEvent)) (*excelize.File, error) {
	batch, err := e.store.GetBatch(ctx, opts.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", opts.BatchID, err)
	}
	reportProgress(progress, 5, "读取批次")

	var rates []model.ParsedRate
	for offset := 0; ; offset += pageSize {
		page, err := e.store.ListRates(ctx, opts.BatchID, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load rates: %w", err)
		}
		rates = append(rates, page...)
		if batch.SuccessRows > 0 {
			reportProgress(progress, 5+60*len(rates)/batch.SuccessRows, "读取报价")
		}
		if len(page) < pageSize {
			break
		}
	}

	metas, err := e.store.ListSheetMeta(ctx, opts.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sheet meta: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", RatesSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := WriteRates(f, RatesSheet, rates); err != nil {
		_ = f.Close()
		return nil, err
	}
	reportProgress(progress, 85, "写入报价")

	if err := writeSheetMeta(f, metas); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeBatch(f, batch); err != nil {
		_ = f.Close()
		return nil, err
	}

	f.SetActiveSheet(0)
	reportProgress(progress, 100, "完成")
	return f, nil
}

// ExportRates 直接导出报价列表（预览结果落盘用）
func ExportRates(rates []model.ParsedRate) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", RatesSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := WriteRates(f, RatesSheet, rates); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

var rateHeaders = []interface{}{
	"CAP Code", "CAP ID", "Manufacturer", "Model", "Variant",
	"Contract Type", "Maintained", "Payment Profile", "Initial Months", "Term", "Annual Mileage",
	"Monthly Rental", "OTR", "P11D", "CO2", "Fuel Type", "Transmission", "Excess Mileage", "Quote Number",
	"Source Sheet", "Source Row", "Source Col",
}

// WriteRates 用 StreamWriter 写报价表（表头 + 每条报价一行）
func WriteRates(f *excelize.File, sheet string, rates []model.ParsedRate) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
	}

	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}
	if err := sw.SetPanes(&excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if err := sw.SetColWidth(3, 5, 18); err != nil {
		return err
	}

	header := make([]interface{}, len(rateHeaders))
	for i, h := range rateHeaders {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range rates {
		row := []interface{}{
			r.CapCode, r.CapID, r.Manufacturer, r.Model, r.Variant,
			string(r.ContractType), yesNo(r.IsMaintained), r.PaymentProfileLabel, r.InitialMonths, r.Term, r.AnnualMileage,
			excelize.Cell{StyleID: money, Value: pounds(r.MonthlyRental)},
			optionalMoney(money, r.OTR),
			optionalMoney(money, r.P11D),
			optionalInt(r.CO2),
			r.FuelType, r.Transmission,
			optionalInt(r.ExcessMileagePence),
			r.QuoteNumber,
			r.SourceSheet, r.SourceRow, r.SourceCol,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write rate row %d: %w", i+2, err)
		}
	}
	return sw.Flush()
}

func writeSheetMeta(f *excelize.File, metas []model.SheetMeta) error {
	if _, err := f.NewSheet(SheetsInfo); err != nil {
		return err
	}
	rows := [][]interface{}{{"Sheet", "Format", "Confidence", "Rows", "Columns", "Imported Rates", "Status", "Message"}}
	for _, m := range metas {
		rows = append(rows, []interface{}{
			m.SheetName, string(m.Format), m.Confidence, m.TotalRows, m.TotalColumns, m.ImportedRows, m.Status, m.Message,
		})
	}
	return setRows(f, SheetsInfo, rows)
}

func writeBatch(f *excelize.File, b *model.ImportBatch) error {
	if _, err := f.NewSheet(BatchInfo); err != nil {
		return err
	}
	completed := ""
	if b.CompletedAt != nil {
		completed = b.CompletedAt.Format("2006-01-02 15:04:05")
	}
	rows := [][]interface{}{
		{"Batch ID", b.BatchID},
		{"Provider", b.ProviderCode},
		{"Contract Type", string(b.ContractType)},
		{"File", b.FileName},
		{"File Hash", b.FileHash},
		{"Format", string(b.Format)},
		{"Status", string(b.Status)},
		{"Total Rows", b.TotalRows},
		{"Success Rows", b.SuccessRows},
		{"Error Rows", b.ErrorRows},
		{"Latest", yesNo(b.IsLatest)},
		{"Created", b.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Completed", completed},
	}
	return setRows(f, BatchInfo, rows)
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

// pounds 最小货币单位 → 元（两位小数）
func pounds(minor int64) float64 {
	return decimal.New(minor, -2).InexactFloat64()
}

func optionalMoney(style int, v *int64) interface{} {
	if v == nil {
		return nil
	}
	return excelize.Cell{StyleID: style, Value: pounds(*v)}
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
