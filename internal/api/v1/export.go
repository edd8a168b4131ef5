package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ratebook/internal/exporter"
	"ratebook/internal/model"
	"ratebook/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type exportProgressEvent struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExportBatch 直接下载批次报价
// GET /api/batches/:id/export
func (h *Handler) ExportBatch(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}

	file, err := h.exporter.Export(c.Request.Context(), exporter.ExportOptions{BatchID: batch.BatchID}, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "导出失败: " + err.Error()})
		return
	}
	defer file.Close()

	buf, err := file.WriteToBuffer()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "写入导出文件失败"})
		return
	}
	c.Header("Content-Disposition", buildExportContentDisposition(exportFileName(batch)))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ExportStream 导出（SSE 进度 + 完成后提供一次性下载地址）
// POST /api/batches/:id/export/stream
func (h *Handler) ExportStream(c *gin.Context) {
	batch, err := h.store.GetBatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "批次不存在"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询批次失败"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(event exportProgressEvent) {
		b, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	send(exportProgressEvent{
		Type:      "start",
		Message:   "开始导出",
		Data:      map[string]any{"batchId": batch.BatchID},
		Timestamp: time.Now(),
	})

	lastPercent := -1
	progressFn := func(p exporter.ProgressEvent) {
		if p.Percent == lastPercent {
			return
		}
		lastPercent = p.Percent
		send(exportProgressEvent{
			Type:      "progress",
			Message:   p.Stage,
			Data:      map[string]any{"percent": p.Percent},
			Timestamp: time.Now(),
		})
	}

	file, err := h.exporter.Export(c.Request.Context(), exporter.ExportOptions{BatchID: batch.BatchID}, progressFn)
	if err != nil {
		send(exportProgressEvent{
			Type:      "error",
			Message:   "导出失败: " + err.Error(),
			Data:      map[string]any{},
			Timestamp: time.Now(),
		})
		return
	}
	defer file.Close()

	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("ratebook_export_%d_%d.xlsx", time.Now().UnixNano(), os.Getpid()))
	if err := file.SaveAs(tempPath); err != nil {
		send(exportProgressEvent{
			Type:      "error",
			Message:   "写入导出文件失败: " + err.Error(),
			Data:      map[string]any{},
			Timestamp: time.Now(),
		})
		_ = os.Remove(tempPath)
		return
	}

	token := h.downloads.put(tempPath, exportFileName(batch), 10*time.Minute)
	prefix := strings.TrimSuffix(c.FullPath(), "/batches/:id/export/stream")

	send(exportProgressEvent{
		Type:    "done",
		Message: "导出完成",
		Data: map[string]any{
			"percent":     100,
			"downloadUrl": fmt.Sprintf("%s/export/download/%s", prefix, token),
		},
		Timestamp: time.Now(),
	})
}

// DownloadExport 下载导出的 Excel 文件（一次性）
// GET /api/export/download/:token
func (h *Handler) DownloadExport(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 token"})
		return
	}

	item, ok := h.downloads.take(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "下载链接已失效"})
		return
	}
	defer os.Remove(item.filePath)

	if _, err := os.Stat(item.filePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "导出文件不存在"})
		return
	}

	c.Header("Content-Disposition", buildExportContentDisposition(item.fileName))
	c.Header("Content-Type", xlsxContentType)
	c.File(item.filePath)
}

func exportFileName(b *model.ImportBatch) string {
	id := b.BatchID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("ratebook-%s-%s.xlsx", b.ProviderCode, id)
}

func buildExportContentDisposition(fileName string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, fileName)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", ascii, url.PathEscape(fileName))
}
