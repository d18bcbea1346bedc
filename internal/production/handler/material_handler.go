package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
)

// MaterialHandler 耗材类型与批次接口
type MaterialHandler struct {
	svc *service.AllocatorService
}

func NewMaterialHandler(svc *service.AllocatorService) *MaterialHandler {
	return &MaterialHandler{svc: svc}
}

func (h *MaterialHandler) ListTypes(c *gin.Context) {
	types, err := h.svc.ListMaterialTypes(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": types})
}

func (h *MaterialHandler) CreateType(c *gin.Context) {
	var req service.CreateMaterialTypeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	mt, err := h.svc.CreateMaterialType(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, mt)
}

// ListLots 耗材批次列表（含剩余克数）
// GET /api/v1/lots?material_type_id=xxx&active=true
func (h *MaterialHandler) ListLots(c *gin.Context) {
	lots, err := h.svc.ListLots(c.Request.Context(), c.Query("material_type_id"), c.Query("active") == "true")
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": lots})
}

// PurchaseLot 登记采购的耗材批次
func (h *MaterialHandler) PurchaseLot(c *gin.Context) {
	var req service.PurchaseLotInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	lot, err := h.svc.PurchaseLot(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, lot)
}

func (h *MaterialHandler) GetLot(c *gin.Context) {
	lot, err := h.svc.GetLot(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, lot)
}

func (h *MaterialHandler) AdjustLot(c *gin.Context) {
	var req service.AdjustLotInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	lot, err := h.svc.AdjustLot(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, lot)
}
