package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/3D-MAGE/app3dmage/internal/middleware"
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/3D-MAGE/app3dmage/internal/production/sse"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Job       *JobHandler
	Queue     *QueueHandler
	Machine   *MachineHandler
	Material  *MaterialHandler
	Inventory *InventoryHandler
	Lease     *LeaseHandler
	Sync      *SyncHandler
	SSE       *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		Job:       NewJobHandler(svc.Job),
		Queue:     NewQueueHandler(svc.Scheduler, svc.Allocator),
		Machine:   NewMachineHandler(svc.Machine),
		Material:  NewMaterialHandler(svc.Allocator),
		Inventory: NewInventoryHandler(svc.Sales),
		Lease:     NewLeaseHandler(svc.Lease),
		Sync:      NewSyncHandler(svc.Version, svc.Settings),
		SSE:       NewSSEHandler(hub),
	}
}

// RegisterRoutes 注册生产相关路由，api 需已挂载认证中间件
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup) {
	// 打印队列
	api.GET("/queue", h.Queue.Queue)
	api.PUT("/machines/:id/queue", h.Queue.Reorder)
	api.POST("/tasks", h.Queue.CreateTask)
	api.PUT("/tasks/:id", h.Queue.UpdateTask)
	api.DELETE("/tasks/:id", h.Queue.DeleteTask)
	api.PUT("/tasks/:id/status", h.Queue.SetStatus)
	api.PUT("/tasks/:id/usages", h.Queue.CommitUsage)
	api.POST("/tasks/:id/clone", h.Queue.Clone)
	api.POST("/tasks/:id/requeue", h.Queue.Requeue)

	// 打印机
	api.GET("/machines", h.Machine.List)
	api.POST("/machines", h.Machine.Create)
	api.GET("/machines/:id", h.Machine.Get)
	api.POST("/machines/:id/maintenance-reset", h.Machine.ResetMaintenance)

	// 工单
	api.GET("/jobs", h.Job.List)
	api.POST("/jobs", h.Job.Create)
	api.GET("/jobs/:id", h.Job.Get)
	api.GET("/jobs/:id/cost", h.Job.Cost)
	api.PUT("/jobs/:id/status", h.Job.SetStatus)
	api.POST("/jobs/:id/complete", h.Job.Complete)
	api.POST("/jobs/:id/reopen", h.Job.Reopen)
	api.POST("/jobs/:id/reprint", h.Job.Reprint)
	api.POST("/templates/:id/jobs", h.Job.CreateFromTemplate)
	api.GET("/templates", h.Job.ListTemplates)
	api.POST("/templates", h.Job.CreateTemplate)
	api.GET("/templates/:id", h.Job.GetTemplate)

	// 耗材
	api.GET("/material-types", h.Material.ListTypes)
	api.POST("/material-types", h.Material.CreateType)
	api.GET("/lots", h.Material.ListLots)
	api.POST("/lots", h.Material.PurchaseLot)
	api.GET("/lots/:id", h.Material.GetLot)
	api.PATCH("/lots/:id", h.Material.AdjustLot)

	// 库存与销售
	api.GET("/batches", h.Inventory.List)
	api.GET("/batches/:id", h.Inventory.Get)
	api.PUT("/batches/:id/status", h.Inventory.Move)
	api.POST("/batches/:id/sale", h.Inventory.PostSale)
	api.PUT("/batches/:id/sale", h.Inventory.EditSale)
	api.POST("/batches/:id/reverse-sale", h.Inventory.ReverseSale)
	api.GET("/channels", h.Inventory.ListChannels)
	api.POST("/channels", h.Inventory.CreateChannel)
	api.PUT("/channels/:id/fee", h.Inventory.UpdateChannelFee)

	// 租约
	api.GET("/leases/:type/:id", h.Lease.Status)
	api.POST("/leases/:type/:id", h.Lease.Acquire)
	api.DELETE("/leases/:type/:id", h.Lease.Release)

	// 同步
	api.GET("/updates", h.Sync.CheckUpdates)
	api.GET("/settings", h.Sync.GetSettings)
	api.PUT("/settings", middleware.RequireRole("admin"), h.Sync.UpdateSettings)
	api.GET("/events", h.SSE.Stream)
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination 计算分页信息
func NewPagination(page, pageSize int, total int64) *Pagination {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Pagination{Page: page, PageSize: pageSize, Total: int(total), TotalPages: pages}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应，HTTP 状态码取 code 的前三位
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带附加数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 业务错误码
const (
	CodeValidation = 40001
	CodeNotFound   = 40401
	CodeLeaseHeld  = 40901
	CodeConflict   = 40902
	CodeIntegrity  = 42201
)

// ErrorData 业务错误附加信息
type ErrorData struct {
	Reason string `json:"reason"`
	Holder string `json:"holder,omitempty"`
}

// RespondError 把服务层错误映射为响应
func RespondError(c *gin.Context, err error) {
	e, ok := service.AsError(err)
	if !ok {
		_ = c.Error(err)
		InternalError(c, "服务器内部错误")
		return
	}
	data := &ErrorData{Reason: e.Reason, Holder: e.Holder}
	switch e.Kind {
	case service.KindValidation:
		ErrorWithData(c, CodeValidation, e.Message, data)
	case service.KindNotFound:
		ErrorWithData(c, CodeNotFound, e.Message, data)
	case service.KindConflict:
		if errors.Is(e, service.ErrLeaseHeld) {
			ErrorWithData(c, CodeLeaseHeld, e.Message, data)
			return
		}
		ErrorWithData(c, CodeConflict, e.Message, data)
	case service.KindIntegrity:
		ErrorWithData(c, CodeIntegrity, e.Message, data)
	default:
		InternalError(c, e.Message)
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString(middleware.KeyUserID)
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
