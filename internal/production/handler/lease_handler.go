package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
)

// LeaseHandler 编辑租约接口
type LeaseHandler struct {
	svc *service.LeaseService
}

func NewLeaseHandler(svc *service.LeaseService) *LeaseHandler {
	return &LeaseHandler{svc: svc}
}

// Status 查询租约
// GET /api/v1/leases/:type/:id
func (h *LeaseHandler) Status(c *gin.Context) {
	view, err := h.svc.Status(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// Acquire 获取或续期租约，被他人持有时返回 409
func (h *LeaseHandler) Acquire(c *gin.Context) {
	view, err := h.svc.Acquire(c.Request.Context(), c.Param("type"), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// Release 释放租约
func (h *LeaseHandler) Release(c *gin.Context) {
	view, err := h.svc.Release(c.Request.Context(), c.Param("type"), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}
