package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
)

// JobHandler 工单接口
type JobHandler struct {
	svc *service.JobService
}

func NewJobHandler(svc *service.JobService) *JobHandler {
	return &JobHandler{svc: svc}
}

// List 工单列表
// GET /api/v1/jobs?status=TODO&keyword=vaso
func (h *JobHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	jobs, total, err := h.svc.List(c.Request.Context(), repository.JobListParams{
		Status:  c.Query("status"),
		Keyword: c.Query("keyword"),
		Page:    page,
		Size:    pageSize,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{Items: jobs, Pagination: NewPagination(page, pageSize, total)})
}

// Create 创建工单
// POST /api/v1/jobs
func (h *JobHandler) Create(c *gin.Context) {
	var req service.CreateJobInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	job, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, job)
}

// Get 工单详情
func (h *JobHandler) Get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, detail)
}

// Cost 工单成本
func (h *JobHandler) Cost(c *gin.Context) {
	cost, err := h.svc.Cost(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, cost)
}

// SetStatus 显式修改工单状态
// PUT /api/v1/jobs/:id/status
func (h *JobHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	job, err := h.svc.SetStatus(c.Request.Context(), GetUserID(c), c.Param("id"), req.Status)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, job)
}

// Complete 完工入库
// POST /api/v1/jobs/:id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	var req service.CompleteJobInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.Complete(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, result)
}

// Reopen 重新打开工单
func (h *JobHandler) Reopen(c *gin.Context) {
	job, err := h.svc.Reopen(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, job)
}

// Reprint 复制工单重新打印
func (h *JobHandler) Reprint(c *gin.Context) {
	job, err := h.svc.Reprint(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, job)
}

func (h *JobHandler) ListTemplates(c *gin.Context) {
	templates, err := h.svc.ListTemplates(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": templates})
}

func (h *JobHandler) CreateTemplate(c *gin.Context) {
	var req service.CreateTemplateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	t, err := h.svc.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, t)
}

func (h *JobHandler) GetTemplate(c *gin.Context) {
	t, err := h.svc.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, t)
}

// CreateFromTemplate 按模板建工单
// POST /api/v1/templates/:id/jobs  {"quantity": 10}
func (h *JobHandler) CreateFromTemplate(c *gin.Context) {
	var req service.CreateFromTemplateInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}
	job, err := h.svc.CreateFromTemplate(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, job)
}
