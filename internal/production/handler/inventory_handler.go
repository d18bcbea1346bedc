package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InventoryHandler 库存批次、销售、收款渠道接口
type InventoryHandler struct {
	svc *service.SalesService
}

func NewInventoryHandler(svc *service.SalesService) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

// List 库存批次列表
// GET /api/v1/batches?status=IN_STOCK&job_id=xxx
func (h *InventoryHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	batches, total, err := h.svc.ListBatches(c.Request.Context(), repository.BatchListParams{
		Status: c.Query("status"),
		JobID:  c.Query("job_id"),
		Page:   page,
		Size:   pageSize,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{Items: batches, Pagination: NewPagination(page, pageSize, total)})
}

func (h *InventoryHandler) Get(c *gin.Context) {
	b, err := h.svc.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, b)
}

// Move 修改批次状态（后处理 / 在库 / 寄售）
func (h *InventoryHandler) Move(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	b, err := h.svc.MoveBatch(c.Request.Context(), GetUserID(c), c.Param("id"), req.Status)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, b)
}

// PostSale 销售入账
// POST /api/v1/batches/:id/sale
func (h *InventoryHandler) PostSale(c *gin.Context) {
	var req service.PostSaleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	sold, err := h.svc.PostSale(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, sold)
}

// EditSale 修改已入账销售
// PUT /api/v1/batches/:id/sale
func (h *InventoryHandler) EditSale(c *gin.Context) {
	var req service.EditSaleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	b, err := h.svc.EditSale(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, b)
}

// ReverseSale 冲销销售
// POST /api/v1/batches/:id/reverse-sale
func (h *InventoryHandler) ReverseSale(c *gin.Context) {
	b, err := h.svc.ReverseSale(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, b)
}

func (h *InventoryHandler) ListChannels(c *gin.Context) {
	channels, err := h.svc.ListChannels(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": channels})
}

func (h *InventoryHandler) CreateChannel(c *gin.Context) {
	var req service.CreateChannelInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ch, err := h.svc.CreateChannel(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, ch)
}

// UpdateChannelFee 修改渠道手续费策略
func (h *InventoryHandler) UpdateChannelFee(c *gin.Context) {
	var req struct {
		FeeKind string          `json:"fee_kind" binding:"required"`
		FeeRate decimal.Decimal `json:"fee_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	ch, err := h.svc.UpdateChannelFee(c.Request.Context(), c.Param("id"), req.FeeKind, req.FeeRate)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ch)
}
