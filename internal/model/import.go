package model

import "time"

// BatchStatus 导入批次状态
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// ImportBatch 导入批次
type ImportBatch struct {
	ID           int64        `json:"id"`
	BatchID      string       `json:"batchId"`
	ProviderCode string       `json:"providerCode"`
	ContractType ContractType `json:"contractType,omitempty"`
	FileName     string       `json:"fileName"`
	FileHash     string       `json:"fileHash"`
	Format       SheetFormat  `json:"format,omitempty"`
	Status       BatchStatus  `json:"status"`
	TotalRows    int          `json:"totalRows"`
	SuccessRows  int          `json:"successRows"`
	ErrorRows    int          `json:"errorRows"`
	IsLatest     bool         `json:"isLatest"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`

	// Replaces 强制重导时被替换的已完成批次，CompleteBatch 在同一事务内删除它
	Replaces string `json:"-"`
}

// SheetMeta Sheet 元信息（用于追溯）
type SheetMeta struct {
	SheetName    string      `json:"sheetName"`
	Format       SheetFormat `json:"format"`
	Confidence   int         `json:"confidence"`
	TotalRows    int         `json:"totalRows"`
	TotalColumns int         `json:"totalColumns"`
	ImportedRows int         `json:"importedRows"`
	LayoutJSON   string      `json:"layoutJson"`
	Status       string      `json:"status"` // imported/skipped/empty
	Message      string      `json:"message,omitempty"`
}

// SmartImportResult 导入结果
type SmartImportResult struct {
	Success         bool             `json:"success"`
	Format          SheetFormat      `json:"format"`
	BatchID         string           `json:"batchId,omitempty"`
	FileHash        string           `json:"fileHash,omitempty"`
	TotalSheets     int              `json:"totalSheets"`
	ProcessedSheets int              `json:"processedSheets"`
	TotalRates      int              `json:"totalRates"`
	SuccessRates    int              `json:"successRates"`
	ErrorRates      int              `json:"errorRates"`
	Rates           []ParsedRate     `json:"rates"`
	Errors          []string         `json:"errors"`
	Warnings        []string         `json:"warnings"`
	Detection       *DetectionResult `json:"detection,omitempty"`
}

// AnalysisResult 预览结果（不落库）
type AnalysisResult struct {
	FileName    string          `json:"fileName"`
	FileHash    string          `json:"fileHash"`
	DuplicateOf string          `json:"duplicateOf,omitempty"`
	Detection   DetectionResult `json:"detection"`
	Rates       []ParsedRate    `json:"rates"`
	TotalRates  int             `json:"totalRates"`
	ErrorRates  int             `json:"errorRates"`
	Errors      []string        `json:"errors"`
	Warnings    []string        `json:"warnings"`
}
