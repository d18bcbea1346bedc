package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
)

// MachineHandler 打印机接口
type MachineHandler struct {
	svc *service.MachineService
}

func NewMachineHandler(svc *service.MachineService) *MachineHandler {
	return &MachineHandler{svc: svc}
}

func (h *MachineHandler) List(c *gin.Context) {
	machines, err := h.svc.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": machines})
}

func (h *MachineHandler) Create(c *gin.Context) {
	var req service.CreateMachineInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	m, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, m)
}

func (h *MachineHandler) Get(c *gin.Context) {
	m, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, m)
}

// ResetMaintenance 保养计时清零
// POST /api/v1/machines/:id/maintenance-reset
func (h *MachineHandler) ResetMaintenance(c *gin.Context) {
	m, err := h.svc.ResetMaintenance(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, m)
}
