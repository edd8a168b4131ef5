package parser

import (
	"fmt"

	"ratebook/internal/model"
)

// ExtractMatrix 矩阵版式：每个（付款方式 × 里程）单元格一条报价
//
// 空白、非数值或非正的单元格直接跳过（报价矩阵本来就有空档）。
// 有保养/非保养子列时每个里程最多两条报价；否则按合同类型推断是否含保养。
func (e *Extractor) ExtractMatrix(grid model.RawSheetGrid, analysis model.SheetAnalysis, vehicle *model.ExtractedVehicleInfo, opts ExtractOptions) ([]model.ParsedRate, ExtractStats) {
	var stats ExtractStats
	info, ok := analysis.Matrix()
	if !ok {
		return nil, stats
	}
	if vehicle == nil {
		vehicle = &model.ExtractedVehicleInfo{}
	}

	var rates []model.ParsedRate
	for i, row := range info.RowIndexes {
		rowLabel := info.RowLabels[i]
		ct := activeContractType(info, row, opts)

		for _, col := range info.Columns {
			initial, payments, mileage, ok := e.axisValues(info, rowLabel, col.Label)
			if !ok {
				continue
			}

			type cell struct {
				index      int
				maintained bool
			}
			var cells []cell
			if col.HasSplit() {
				if col.MaintainedCol != nil {
					cells = append(cells, cell{index: *col.MaintainedCol, maintained: true})
				}
				if col.NonMaintainedCol != nil {
					cells = append(cells, cell{index: *col.NonMaintainedCol, maintained: false})
				}
			} else {
				cells = append(cells, cell{index: col.Index, maintained: e.vocab.IsMaintainedByDefault(ct)})
			}

			for _, c := range cells {
				text := grid.Cell(row, c.index)
				if text == "" {
					stats.BlankCells++
					continue
				}
				rental, ok := ParseMoney(text)
				if !ok || rental <= 0 {
					stats.InvalidCells++
					continue
				}
				rate := model.ParsedRate{
					CapCode:             vehicle.CapCode,
					CapID:               vehicle.CapID,
					Manufacturer:        vehicle.Manufacturer,
					Model:               vehicle.Model,
					Variant:             vehicle.Variant,
					Term:                initial + payments,
					AnnualMileage:       mileage,
					InitialMonths:       initial,
					PaymentProfileLabel: fmt.Sprintf("%d+%d", initial, payments),
					ContractType:        ct,
					MonthlyRental:       rental,
					IsMaintained:        c.maintained,
					QuoteNumber:         vehicle.QuoteNumber,
					SourceSheet:         grid.Name,
					SourceRow:           row + 1,
					SourceCol:           c.index + 1,
				}
				if vehicle.OTR != nil {
					otr := *vehicle.OTR
					rate.OTR = &otr
				}
				rates = append(rates, rate)
				stats.Emitted++
			}
		}
	}
	return rates, stats
}

// axisValues 从行/列标签中取出付款方式与里程；镜像方向时对调
func (e *Extractor) axisValues(info model.MatrixInfo, rowLabel, colLabel string) (initial, payments, mileage int, ok bool) {
	profileLabel, mileageLabel := rowLabel, colLabel
	if info.RowAxis == model.AxisMileage {
		profileLabel, mileageLabel = colLabel, rowLabel
	}
	initial, payments, ok = e.vocab.ParsePaymentProfile(profileLabel)
	if !ok {
		return 0, 0, 0, false
	}
	mileage, ok = e.vocab.ParseMileage(mileageLabel)
	if !ok {
		return 0, 0, 0, false
	}
	return initial, payments, mileage, true
}

// activeContractType 当前行的合同类型：上方最近的分段标记 → sheet 名 → 调用方声明 → 默认值
func activeContractType(info model.MatrixInfo, row int, opts ExtractOptions) model.ContractType {
	for i := len(info.Sections) - 1; i >= 0; i-- {
		s := info.Sections[i]
		if s.StartRow <= row {
			return s.ContractType
		}
	}
	if info.SheetContractType != "" {
		return info.SheetContractType
	}
	return opts.fallback()
}
