package handler

import (
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/gin-gonic/gin"
)

// ChangeTokenHeader 响应头中携带当前版本号
const ChangeTokenHeader = "X-Change-Token"

// SyncHandler 版本轮询与全局设置接口
type SyncHandler struct {
	version  *service.VersionService
	settings *service.SettingsService
}

func NewSyncHandler(version *service.VersionService, settings *service.SettingsService) *SyncHandler {
	return &SyncHandler{version: version, settings: settings}
}

// CheckUpdates 比对客户端上次看到的版本号
// GET /api/v1/updates?since=42
func (h *SyncHandler) CheckUpdates(c *gin.Context) {
	check, err := h.version.Check(c.Request.Context(), c.Query("since"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Header(ChangeTokenHeader, check.Token)
	Success(c, check)
}

func (h *SyncHandler) GetSettings(c *gin.Context) {
	rates, err := h.settings.Rates(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rates)
}

// UpdateSettings 修改电价和损耗系数（仅管理员）
func (h *SyncHandler) UpdateSettings(c *gin.Context) {
	var req service.UpdateSettingsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	rates, err := h.settings.Update(c.Request.Context(), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rates)
}
