package v1

import (
	"github.com/gin-gonic/gin"

	"ratebook/internal/exporter"
	"ratebook/internal/importer"
	"ratebook/internal/store"
)

// Handler 报价导入 API 处理器
type Handler struct {
	store       store.Repository
	coordinator *importer.Coordinator
	exporter    *exporter.Exporter
	maxUpload   int64
	downloads   *exportDownloadStore
}

// NewHandler 创建 API 处理器；maxUploadMB<=0 时不限制上传大小
func NewHandler(st store.Repository, coordinator *importer.Coordinator, maxUploadMB int) *Handler {
	return &Handler{
		store:       st,
		coordinator: coordinator,
		exporter:    exporter.NewExporter(st),
		maxUpload:   int64(maxUploadMB) << 20,
		downloads:   newExportDownloadStore(),
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)

	// 报价单预览 / 导入
	router.POST("/ratebooks/analyze", h.Analyze)
	router.POST("/ratebooks/import", h.Import)

	// 导入批次
	router.GET("/batches", h.ListBatches)
	router.GET("/batches/:id", h.GetBatch)
	router.GET("/batches/:id/rates", h.ListRates)
	router.GET("/batches/:id/sheets", h.ListSheets)

	// 导出
	router.GET("/batches/:id/export", h.ExportBatch)
	router.POST("/batches/:id/export/stream", h.ExportStream)
	router.GET("/export/download/:token", h.DownloadExport)
}
