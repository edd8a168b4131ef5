package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ratebook/internal/model"
	"ratebook/internal/store"
)

// ListBatches 导入批次列表
// GET /api/batches?provider=&limit=
func (h *Handler) ListBatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	batches, err := h.store.ListBatches(c.Request.Context(), c.Query("provider"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询批次失败"})
		return
	}
	if batches == nil {
		batches = []model.ImportBatch{}
	}
	c.JSON(http.StatusOK, gin.H{"items": batches, "total": len(batches)})
}

// GetBatch 批次详情
// GET /api/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, batch)
}

// ListRates 批次报价（分页）
// GET /api/batches/:id/rates?limit=&offset=
func (h *Handler) ListRates(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rates, err := h.store.ListRates(c.Request.Context(), batch.BatchID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报价失败"})
		return
	}
	if rates == nil {
		rates = []model.ParsedRate{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  rates,
		"total":  batch.SuccessRows,
		"limit":  limit,
		"offset": offset,
	})
}

// ListSheets 批次 sheet 元信息
// GET /api/batches/:id/sheets
func (h *Handler) ListSheets(c *gin.Context) {
	batch, ok := h.loadBatch(c)
	if !ok {
		return
	}
	metas, err := h.store.ListSheetMeta(c.Request.Context(), batch.BatchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询 sheet 信息失败"})
		return
	}
	if metas == nil {
		metas = []model.SheetMeta{}
	}
	c.JSON(http.StatusOK, gin.H{"items": metas})
}

func (h *Handler) loadBatch(c *gin.Context) (*model.ImportBatch, bool) {
	batch, err := h.store.GetBatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "批次不存在"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询批次失败"})
		return nil, false
	}
	return batch, true
}
