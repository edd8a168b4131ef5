package parser

import "ratebook/internal/model"

// Config 识别参数
type Config struct {
	HeaderScanRows         int   // 表头候选行扫描范围
	MinHeaderFields        int   // 表头至少命中的不同字段数
	MatrixScanRows         int   // 矩阵轴扫描行数
	LabelScanCols          int   // 矩阵轴标签列候选范围
	MinAxisTokens          int   // 轴至少包含的标记数
	MinHeaderMileageTokens int   // 矩阵表头至少包含的里程标记数
	VehicleScanRows        int   // 车辆信息扫描行数
	MinOTR                 int64 // OTR 最小可信值（最小货币单位）
	SampleRows             int   // 识别结果附带的样例行数
}

// DefaultConfig 默认识别参数
func DefaultConfig() Config {
	return Config{
		HeaderScanRows:         5,
		MinHeaderFields:        3,
		MatrixScanRows:         20,
		LabelScanCols:          3,
		MinAxisTokens:          3,
		MinHeaderMileageTokens: 2,
		VehicleScanRows:        5,
		MinOTR:                 100000,
		SampleRows:             5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeaderScanRows <= 0 {
		c.HeaderScanRows = d.HeaderScanRows
	}
	if c.MinHeaderFields <= 0 {
		c.MinHeaderFields = d.MinHeaderFields
	}
	if c.MatrixScanRows <= 0 {
		c.MatrixScanRows = d.MatrixScanRows
	}
	if c.LabelScanCols <= 0 {
		c.LabelScanCols = d.LabelScanCols
	}
	if c.MinAxisTokens <= 0 {
		c.MinAxisTokens = d.MinAxisTokens
	}
	if c.MinHeaderMileageTokens <= 0 {
		c.MinHeaderMileageTokens = d.MinHeaderMileageTokens
	}
	if c.VehicleScanRows <= 0 {
		c.VehicleScanRows = d.VehicleScanRows
	}
	if c.MinOTR <= 0 {
		c.MinOTR = d.MinOTR
	}
	if c.SampleRows < 0 {
		c.SampleRows = 0
	}
	return c
}

// ExtractOptions 抽取选项
type ExtractOptions struct {
	ContractType        model.ContractType // 调用方声明的合同类型（可空）
	DefaultContractType model.ContractType // 兜底合同类型
}

func (o ExtractOptions) fallback() model.ContractType {
	if o.ContractType != "" {
		return o.ContractType
	}
	if o.DefaultContractType != "" {
		return o.DefaultContractType
	}
	return model.ContractHire
}

// ExtractStats 单个 sheet 的抽取统计
type ExtractStats struct {
	Emitted         int `json:"emitted"`
	EmptyRows       int `json:"emptyRows"`
	BlankCells      int `json:"blankCells"`
	MissingPrice    int `json:"missingPrice"`
	MissingIdentity int `json:"missingIdentity"`
	InvalidCells    int `json:"invalidCells"`
}

// Errors 计入错误数的跳过（空行、空单元格不算）
func (s ExtractStats) Errors() int {
	return s.MissingPrice + s.MissingIdentity + s.InvalidCells
}

// Add 累加
func (s ExtractStats) Add(o ExtractStats) ExtractStats {
	return ExtractStats{
		Emitted:         s.Emitted + o.Emitted,
		EmptyRows:       s.EmptyRows + o.EmptyRows,
		BlankCells:      s.BlankCells + o.BlankCells,
		MissingPrice:    s.MissingPrice + o.MissingPrice,
		MissingIdentity: s.MissingIdentity + o.MissingIdentity,
		InvalidCells:    s.InvalidCells + o.InvalidCells,
	}
}
