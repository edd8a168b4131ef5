package parser

import (
	"strings"

	"ratebook/internal/model"
	"ratebook/internal/vocab"
)

// VehicleResolver 从 sheet 名与表头单元格提取车辆信息
type VehicleResolver struct {
	vocab    *vocab.Vocabulary
	minOTR   int64
	scanRows int
}

// NewVehicleResolver 创建车辆信息解析器
func NewVehicleResolver(v *vocab.Vocabulary, cfg Config) *VehicleResolver {
	cfg = cfg.withDefaults()
	return &VehicleResolver{vocab: v, minOTR: cfg.MinOTR, scanRows: cfg.VehicleScanRows}
}

// FromSheetName 匹配厂商前缀，剩余部分作为车型描述
func (r *VehicleResolver) FromSheetName(name string) (manufacturer, variant string, ok bool) {
	return r.vocab.MatchManufacturerPrefix(name)
}

// Resolve 合并 sheet 名与表头单元格两路结果（表头优先）
//
// limitRow 之后的行不参与表头扫描（通常为表头行或矩阵数据起始行）；
// 只识别到车型描述时返回 nil。
func (r *VehicleResolver) Resolve(grid model.RawSheetGrid, limitRow int) *model.ExtractedVehicleInfo {
	var fromName model.ExtractedVehicleInfo
	nameHit := false
	if mfr, variant, ok := r.FromSheetName(grid.Name); ok {
		fromName.Manufacturer = mfr
		fromName.Variant = variant
		nameHit = true
	}

	fromHeader := r.FromHeaderCells(grid, limitRow)
	headerHit := !isEmptyVehicle(fromHeader)

	merged := fromName
	if headerHit {
		merged.Manufacturer = firstNonEmpty(fromHeader.Manufacturer, fromName.Manufacturer)
		merged.Model = fromHeader.Model
		merged.Variant = firstNonEmpty(fromHeader.Variant, fromName.Variant)
		merged.CapCode = fromHeader.CapCode
		merged.CapID = fromHeader.CapID
		merged.QuoteNumber = fromHeader.QuoteNumber
		merged.OTR = fromHeader.OTR
	}

	switch {
	case nameHit && headerHit:
		merged.Source = model.SourceBoth
	case headerHit:
		merged.Source = model.SourceHeaderCells
	default:
		merged.Source = model.SourceSheetName
	}

	if merged.Manufacturer == "" && merged.Model == "" && merged.CapCode == "" &&
		merged.CapID == "" && merged.QuoteNumber == "" && merged.OTR == nil {
		return nil
	}
	return &merged
}

func isEmptyVehicle(h model.ExtractedVehicleInfo) bool {
	return h.Manufacturer == "" && h.Model == "" && h.Variant == "" && h.CapCode == "" &&
		h.CapID == "" && h.QuoteNumber == "" && h.OTR == nil
}

// FromHeaderCells 扫描前几行的 "标签 | 值" 或 "标签: 值" 单元格
func (r *VehicleResolver) FromHeaderCells(grid model.RawSheetGrid, limitRow int) model.ExtractedVehicleInfo {
	var out model.ExtractedVehicleInfo
	rows := r.scanRows
	if limitRow >= 0 && limitRow < rows {
		rows = limitRow
	}
	if rows > grid.RowCount() {
		rows = grid.RowCount()
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < grid.RowWidth(row); col++ {
			label := grid.Cell(row, col)
			if label == "" {
				continue
			}
			value := ""
			if i := strings.Index(label, ":"); i > 0 && strings.TrimSpace(label[i+1:]) != "" {
				value = strings.TrimSpace(label[i+1:])
				label = label[:i]
			} else {
				value = r.nextValue(grid, row, col)
			}
			if value == "" {
				continue
			}
			r.assign(&out, label, value)
		}
	}
	return out
}

// nextValue 标签右侧的值（跳过合并单元格留下的至多一个空格）
func (r *VehicleResolver) nextValue(grid model.RawSheetGrid, row, col int) string {
	for c := col + 1; c <= col+2 && c < grid.RowWidth(row); c++ {
		if v := grid.Cell(row, c); v != "" {
			return v
		}
	}
	return ""
}

func (r *VehicleResolver) assign(out *model.ExtractedVehicleInfo, label, value string) {
	field, conf, ok := r.vocab.MatchHeader(label)
	if !ok || conf < 70 {
		return
	}
	norm := vocab.NormalizeHeader(label)

	switch field {
	case model.FieldCapCode:
		if out.CapCode == "" && r.vocab.IsCapCode(value) {
			out.CapCode = value
		}
	case model.FieldCapID:
		mentions := strings.Contains(norm, "cap") || strings.Contains(" "+norm+" ", " id ")
		if out.CapID == "" && mentions && r.vocab.IsCapID(value) {
			out.CapID = value
		}
	case model.FieldQuoteNumber:
		if out.QuoteNumber == "" && !r.isLabel(value) {
			out.QuoteNumber = value
		}
	case model.FieldManufacturer:
		if out.Manufacturer == "" && !r.isLabel(value) {
			out.Manufacturer = r.vocab.CanonicalManufacturer(value)
		}
	case model.FieldModel:
		if out.Model == "" && !r.isLabel(value) {
			out.Model = value
		}
	case model.FieldVariant:
		if out.Variant == "" && !r.isLabel(value) {
			out.Variant = value
		}
	case model.FieldOTR:
		if out.OTR == nil {
			if v, ok := ParseMoney(value); ok && v >= r.minOTR {
				out.OTR = &v
			}
		}
	}
}

// isLabel 值本身就是一个表头（表头行中相邻的两个标签）
func (r *VehicleResolver) isLabel(value string) bool {
	_, conf, ok := r.vocab.MatchHeader(value)
	return ok && conf == 100
}
