package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ratebook/internal/importer"
)

// Analyze 预览报价单（不落库）
// POST /api/ratebooks/analyze
func (h *Handler) Analyze(c *gin.Context) {
	opts, _, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coordinator.Analyze(c.Request.Context(), opts)
	if err != nil {
		c.JSON(statusForImportError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Import 导入报价单；stream=true 时以 SSE 推送进度，最后一个事件携带导入结果
// POST /api/ratebooks/import
func (h *Handler) Import(c *gin.Context) {
	opts, stream, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !stream {
		result, err := h.coordinator.Run(c.Request.Context(), opts)
		if err != nil {
			c.JSON(statusForImportError(err), result)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	// 设置 SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for event := range h.coordinator.Import(c.Request.Context(), opts) {
		eventData, err := json.Marshal(event)
		if err != nil {
			continue
		}
		// SSE 格式: data: {json}\n\n
		fmt.Fprintf(c.Writer, "data: %s\n\n", eventData)
		flusher.Flush()
	}
}

// statusForImportError 导入错误 → HTTP 状态码
func statusForImportError(err error) int {
	switch {
	case errors.Is(err, importer.ErrDuplicateImport):
		return http.StatusConflict
	case errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrMissingProvider),
		errors.Is(err, importer.ErrInvalidContractType):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrUnreadableWorkbook),
		errors.Is(err, importer.ErrNoSheets),
		errors.Is(err, importer.ErrUnknownFormat),
		errors.Is(err, importer.ErrNoRates):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
