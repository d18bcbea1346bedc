package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
)

// QueueHandler 打印队列与任务接口
type QueueHandler struct {
	scheduler *service.SchedulerService
	allocator *service.AllocatorService
}

func NewQueueHandler(scheduler *service.SchedulerService, allocator *service.AllocatorService) *QueueHandler {
	return &QueueHandler{scheduler: scheduler, allocator: allocator}
}

// Queue 打印队列（按机器分组）
// GET /api/v1/queue
func (h *QueueHandler) Queue(c *gin.Context) {
	queue, err := h.scheduler.Queue(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, queue)
}

// Reorder 重排机器队列
// PUT /api/v1/machines/:id/queue  {"task_ids": [...]}
func (h *QueueHandler) Reorder(c *gin.Context) {
	var req struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.scheduler.Reorder(c.Request.Context(), GetUserID(c), c.Param("id"), req.TaskIDs); err != nil {
		RespondError(c, err)
		return
	}
	h.Queue(c)
}

// CreateTask 新建打印任务
func (h *QueueHandler) CreateTask(c *gin.Context) {
	var req service.CreateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	task, err := h.scheduler.CreateTask(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, task)
}

// UpdateTask 编辑打印任务
// PUT /api/v1/tasks/:id
func (h *QueueHandler) UpdateTask(c *gin.Context) {
	var req service.UpdateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	task, err := h.scheduler.UpdateTask(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, task)
}

// DeleteTask 删除打印任务
func (h *QueueHandler) DeleteTask(c *gin.Context) {
	if err := h.scheduler.DeleteTask(c.Request.Context(), GetUserID(c), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}
	Success(c, nil)
}

// SetStatus 修改任务状态
// PUT /api/v1/tasks/:id/status  {"status": "DONE", "actual_qty": 4}
func (h *QueueHandler) SetStatus(c *gin.Context) {
	var req service.SetTaskStatusInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	task, err := h.scheduler.SetTaskStatus(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, task)
}

// CommitUsage 整体替换任务耗材用量
// PUT /api/v1/tasks/:id/usages
func (h *QueueHandler) CommitUsage(c *gin.Context) {
	var req service.CommitUsageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	task, err := h.allocator.CommitUsage(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, task)
}

// Clone 复制任务
func (h *QueueHandler) Clone(c *gin.Context) {
	var req struct {
		Count int `json:"count"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}
	tasks, err := h.scheduler.CloneTask(c.Request.Context(), GetUserID(c), c.Param("id"), req.Count)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, gin.H{"items": tasks})
}

// Requeue 失败任务重新排队
func (h *QueueHandler) Requeue(c *gin.Context) {
	var req struct {
		Usages []service.UsageInput `json:"usages"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}
	task, err := h.scheduler.RequeueTask(c.Request.Context(), GetUserID(c), c.Param("id"), req.Usages)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, task)
}
