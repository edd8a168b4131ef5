package parser

import (
	"fmt"
	"strings"

	"ratebook/internal/model"
	"ratebook/internal/vocab"
)

// Extractor 报价抽取器（表格/矩阵）
type Extractor struct {
	vocab *vocab.Vocabulary
}

// NewExtractor 创建抽取器
func NewExtractor(v *vocab.Vocabulary) *Extractor {
	return &Extractor{vocab: v}
}

// Extract 按 sheet 自身的版式抽取
func (e *Extractor) Extract(grid model.RawSheetGrid, analysis model.SheetAnalysis, opts ExtractOptions) ([]model.ParsedRate, ExtractStats, error) {
	switch analysis.Format() {
	case model.FormatTabular:
		rates, stats := e.ExtractTabular(grid, analysis, opts)
		return rates, stats, nil
	case model.FormatMatrix:
		rates, stats := e.ExtractMatrix(grid, analysis, analysis.VehicleInfo, opts)
		return rates, stats, nil
	}
	return nil, ExtractStats{}, fmt.Errorf("sheet %s has no recognised layout", analysis.Name)
}

// ExtractTabular 表格版式：表头行之后每行一条报价
//
// 跳过：空行、无月租或月租非正、既无 CAP code 也无 CAP id。
func (e *Extractor) ExtractTabular(grid model.RawSheetGrid, analysis model.SheetAnalysis, opts ExtractOptions) ([]model.ParsedRate, ExtractStats) {
	var stats ExtractStats
	layout, ok := analysis.Tabular()
	if !ok {
		return nil, stats
	}
	cols := fieldColumns(layout.Columns)
	get := func(row int, f model.TargetField) string {
		col, ok := cols[f]
		if !ok {
			return ""
		}
		return grid.Cell(row, col)
	}

	rentalCol, hasRental := cols[model.FieldMonthlyRental]
	sheetCT, sheetHasCT := e.vocab.MatchContractType(grid.Name)
	vehicle := analysis.VehicleInfo
	if vehicle == nil {
		vehicle = &model.ExtractedVehicleInfo{}
	}

	var rates []model.ParsedRate
	for row := layout.HeaderRow + 1; row < grid.RowCount(); row++ {
		if grid.IsEmptyRow(row) {
			stats.EmptyRows++
			continue
		}
		if !hasRental {
			stats.MissingPrice++
			continue
		}
		rental, ok := ParseMoney(grid.Cell(row, rentalCol))
		if !ok || rental <= 0 {
			stats.MissingPrice++
			continue
		}
		capCode := get(row, model.FieldCapCode)
		capID := get(row, model.FieldCapID)
		if capCode == "" && capID == "" {
			stats.MissingIdentity++
			continue
		}

		rate := model.ParsedRate{
			CapCode:       capCode,
			CapID:         capID,
			Manufacturer:  e.vocab.CanonicalManufacturer(firstNonEmpty(get(row, model.FieldManufacturer), vehicle.Manufacturer)),
			Model:         firstNonEmpty(get(row, model.FieldModel), vehicle.Model),
			Variant:       firstNonEmpty(get(row, model.FieldVariant), vehicle.Variant),
			MonthlyRental: rental,
			OTR:           ParseOptionalMoney(get(row, model.FieldOTR)),
			P11D:          ParseOptionalMoney(get(row, model.FieldP11D)),
			CO2:           ParseOptionalInt(get(row, model.FieldCO2)),
			FuelType:      get(row, model.FieldFuelType),
			Transmission:  get(row, model.FieldTransmission),
			QuoteNumber:   firstNonEmpty(get(row, model.FieldQuoteNumber), vehicle.QuoteNumber),
			SourceSheet:   grid.Name,
			SourceRow:     row + 1,
			SourceCol:     rentalCol + 1,
		}
		if rate.OTR == nil && vehicle.OTR != nil {
			otr := *vehicle.OTR
			rate.OTR = &otr
		}
		rate.ExcessMileagePence = ParseExcessPence(get(row, model.FieldExcessMileage))

		if mileage, ok := e.vocab.ParseMileage(get(row, model.FieldAnnualMileage)); ok {
			rate.AnnualMileage = mileage
		} else if mileage, ok := ParseInt(get(row, model.FieldAnnualMileage)); ok {
			rate.AnnualMileage = mileage
		}

		term, _ := ParseInt(get(row, model.FieldTerm))
		initial, _ := ParseInt(get(row, model.FieldInitialMonths))
		rate.Term, rate.InitialMonths, rate.PaymentProfileLabel = e.tabularProfile(get(row, model.FieldPaymentProfile), term, initial)

		if ct, ok := e.vocab.MatchContractType(get(row, model.FieldContractType)); ok {
			rate.ContractType = ct
		} else {
			if sheetHasCT {
				rate.ContractType = sheetCT
			} else {
				rate.ContractType = opts.fallback()
			}
		}

		if m, ok := ParseBool(get(row, model.FieldIsMaintained)); ok {
			rate.IsMaintained = m
		} else if m, ok := e.vocab.ClassifyMaintenance(get(row, model.FieldIsMaintained)); ok {
			rate.IsMaintained = m
		} else {
			rate.IsMaintained = e.vocab.IsMaintainedByDefault(rate.ContractType)
		}

		rates = append(rates, rate)
		stats.Emitted++
	}
	return rates, stats
}

// tabularProfile 付款方式：显式列优先，其次 首付月数+(期数-首付)，否则按 "1+(期数-1)" 合成
func (e *Extractor) tabularProfile(profile string, term, initial int) (int, int, string) {
	profile = strings.TrimSpace(profile)
	if i, p, ok := e.vocab.ParsePaymentProfile(profile); ok {
		if term <= 0 {
			term = i + p
		}
		return term, i, fmt.Sprintf("%d+%d", i, p)
	}
	if term <= 0 {
		return 0, initial, profile
	}
	if initial > 0 && initial < term {
		return term, initial, fmt.Sprintf("%d+%d", initial, term-initial)
	}
	return term, 1, fmt.Sprintf("1+%d", term-1)
}
