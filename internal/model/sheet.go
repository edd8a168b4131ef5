package model

import (
	"encoding/json"
	"strings"
)

// SheetFormat 工作表版式
type SheetFormat string

const (
	FormatTabular SheetFormat = "tabular" // 一行一条报价
	FormatMatrix  SheetFormat = "matrix"  // 付款方式 × 年里程 网格
	FormatUnknown SheetFormat = "unknown"
)

// AxisKind 矩阵轴类型
type AxisKind string

const (
	AxisPaymentProfile AxisKind = "payment_profile"
	AxisMileage        AxisKind = "mileage"
	AxisUnknown        AxisKind = "unknown"
)

// TargetField 报价字段（表头映射目标）
type TargetField string

const (
	FieldCapCode        TargetField = "cap_code"
	FieldCapID          TargetField = "cap_id"
	FieldManufacturer   TargetField = "manufacturer"
	FieldModel          TargetField = "model"
	FieldVariant        TargetField = "variant"
	FieldTerm           TargetField = "term"
	FieldAnnualMileage  TargetField = "annual_mileage"
	FieldExcessMileage  TargetField = "excess_mileage"
	FieldInitialMonths  TargetField = "initial_months"
	FieldPaymentProfile TargetField = "payment_profile"
	FieldMonthlyRental  TargetField = "monthly_rental"
	FieldIsMaintained   TargetField = "is_maintained"
	FieldContractType   TargetField = "contract_type"
	FieldOTR            TargetField = "otr"
	FieldP11D           TargetField = "p11d"
	FieldCO2            TargetField = "co2"
	FieldFuelType       TargetField = "fuel_type"
	FieldTransmission   TargetField = "transmission"
	FieldQuoteNumber    TargetField = "quote_number"
)

// RawSheetGrid 原始单元格网格（只读）
//
// 单元格统一按文本保存：数值单元格以原始值（非格式化）读入，由解析层负责转换。
type RawSheetGrid struct {
	Name string     `json:"name"`
	Rows [][]string `json:"rows"`
}

// RowCount 行数
func (g RawSheetGrid) RowCount() int {
	return len(g.Rows)
}

// Cell 读取单元格（越界返回空串），已去除首尾空白
func (g RawSheetGrid) Cell(row, col int) string {
	if row < 0 || row >= len(g.Rows) {
		return ""
	}
	r := g.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// RowWidth 指定行的列数
func (g RawSheetGrid) RowWidth(row int) int {
	if row < 0 || row >= len(g.Rows) {
		return 0
	}
	return len(g.Rows[row])
}

// IsEmptyRow 整行是否为空
func (g RawSheetGrid) IsEmptyRow(row int) bool {
	for col := 0; col < g.RowWidth(row); col++ {
		if g.Cell(row, col) != "" {
			return false
		}
	}
	return true
}

// ColumnMapping 表头列映射；TargetField 为 nil 表示该列有表头文本但未匹配任何字段
type ColumnMapping struct {
	SourceColumnIndex int          `json:"sourceColumnIndex"`
	SourceHeaderText  string       `json:"sourceHeaderText"`
	TargetField       *TargetField `json:"targetField"`
	Confidence        int          `json:"confidence"`
}

// Field 返回映射字段
func (m ColumnMapping) Field() (TargetField, bool) {
	if m.TargetField == nil {
		return "", false
	}
	return *m.TargetField, true
}

// MatrixSection 同一张表内合同类型不同的连续行区间（含首尾，0-based）
type MatrixSection struct {
	ContractType ContractType `json:"contractType"`
	Label        string       `json:"label"`
	StartRow     int          `json:"startRow"`
	EndRow       int          `json:"endRow"`
}

// MatrixColumn 列轴上的一个取值及其（可选的）保养/非保养子列
type MatrixColumn struct {
	Index            int    `json:"index"`
	Label            string `json:"label"`
	MaintainedCol    *int   `json:"maintainedCol,omitempty"`
	NonMaintainedCol *int   `json:"nonMaintainedCol,omitempty"`
}

// HasSplit 是否存在保养/非保养子列
func (c MatrixColumn) HasSplit() bool {
	return c.MaintainedCol != nil || c.NonMaintainedCol != nil
}

// MatrixInfo 矩阵几何信息
type MatrixInfo struct {
	HeaderRow            int             `json:"headerRow"`
	LabelCol             int             `json:"labelCol"`
	DataStartRow         int             `json:"dataStartRow"`
	DataStartCol         int             `json:"dataStartCol"`
	RowAxis              AxisKind        `json:"rowAxis"`
	RowLabels            []string        `json:"rowLabels"`
	RowIndexes           []int           `json:"rowIndexes"`
	ColAxis              AxisKind        `json:"colAxis"`
	ColLabels            []string        `json:"colLabels"`
	Columns              []MatrixColumn  `json:"columns"`
	HasMaintenanceSplit  bool            `json:"hasMaintenanceSplit"`
	MaintenanceSubLabels []string        `json:"maintenanceSubLabels,omitempty"`
	Sections             []MatrixSection `json:"sections,omitempty"`
	SheetContractType    ContractType    `json:"sheetContractType,omitempty"`
}

// SheetLayout 工作表结构（表格或矩阵二选一）
type SheetLayout interface {
	Format() SheetFormat
	sheetLayout()
}

// TabularLayout 表格版式：表头行 + 列映射
type TabularLayout struct {
	HeaderRow int
	Columns   []ColumnMapping
}

// Format 版式
func (TabularLayout) Format() SheetFormat { return FormatTabular }
func (TabularLayout) sheetLayout()        {}

// MatrixLayout 矩阵版式
type MatrixLayout struct {
	Info MatrixInfo
}

// Format 版式
func (MatrixLayout) Format() SheetFormat { return FormatMatrix }
func (MatrixLayout) sheetLayout()        {}

// SheetAnalysis 单个 sheet 的识别结果
type SheetAnalysis struct {
	Name        string
	Layout      SheetLayout // nil 表示 unknown
	Confidence  int
	Reason      string
	VehicleInfo *ExtractedVehicleInfo
	SampleRows  [][]string
}

// Format 识别出的版式
func (a SheetAnalysis) Format() SheetFormat {
	if a.Layout == nil {
		return FormatUnknown
	}
	return a.Layout.Format()
}

// Tabular 返回表格结构
func (a SheetAnalysis) Tabular() (TabularLayout, bool) {
	l, ok := a.Layout.(TabularLayout)
	return l, ok
}

// Matrix 返回矩阵结构
func (a SheetAnalysis) Matrix() (MatrixInfo, bool) {
	l, ok := a.Layout.(MatrixLayout)
	if !ok {
		return MatrixInfo{}, false
	}
	return l.Info, true
}

type sheetAnalysisJSON struct {
	Name        string                `json:"name"`
	Format      SheetFormat           `json:"format"`
	Confidence  int                   `json:"confidence"`
	Reason      string                `json:"reason"`
	HeaderRow   *int                  `json:"headerRow,omitempty"`
	Columns     []ColumnMapping       `json:"columns,omitempty"`
	MatrixInfo  *MatrixInfo           `json:"matrixInfo,omitempty"`
	VehicleInfo *ExtractedVehicleInfo `json:"vehicleInfo,omitempty"`
	SampleRows  [][]string            `json:"sampleRows,omitempty"`
}

// MarshalJSON 平铺输出：columns 与 matrixInfo 只会出现一个
func (a SheetAnalysis) MarshalJSON() ([]byte, error) {
	out := sheetAnalysisJSON{
		Name:        a.Name,
		Format:      a.Format(),
		Confidence:  a.Confidence,
		Reason:      a.Reason,
		VehicleInfo: a.VehicleInfo,
		SampleRows:  a.SampleRows,
	}
	switch l := a.Layout.(type) {
	case TabularLayout:
		hr := l.HeaderRow
		out.HeaderRow = &hr
		out.Columns = l.Columns
	case MatrixLayout:
		info := l.Info
		out.MatrixInfo = &info
	}
	return json.Marshal(out)
}

// DetectionResult 整个工作簿的识别结论
type DetectionResult struct {
	Format     SheetFormat     `json:"format"`
	Confidence int             `json:"confidence"`
	Reason     string          `json:"reason"`
	Sheets     []SheetAnalysis `json:"sheets"`
}
