package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ratebook/internal/store"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	Driver       string               `json:"driver"`       // 存储驱动
	Initialized  bool                 `json:"initialized"`  // 是否已有导入
	TotalBatches int                  `json:"totalBatches"` // 已完成批次数
	TotalRates   int                  `json:"totalRates"`   // 已入库报价数
	LastImportAt *time.Time           `json:"lastImportAt"` // 最后导入时间
	Providers    []store.ProviderStat `json:"providers"`
}

// GetStatus 获取系统状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	stats, err := h.store.ListProviderStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取导入统计失败"})
		return
	}

	resp := StatusResponse{
		Driver:    h.store.Driver(),
		Providers: []store.ProviderStat{},
	}
	for _, s := range stats {
		resp.Providers = append(resp.Providers, s)
		resp.TotalBatches += s.Batches
		resp.TotalRates += s.Rates
		if s.LastImportAt != nil && (resp.LastImportAt == nil || s.LastImportAt.After(*resp.LastImportAt)) {
			t := *s.LastImportAt
			resp.LastImportAt = &t
		}
	}
	resp.Initialized = resp.TotalBatches > 0

	c.JSON(http.StatusOK, resp)
}
