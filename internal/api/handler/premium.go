package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/premium_server/internal/api/middleware"
	"github.com/qs3c/premium_server/internal/model/dto"
	"github.com/qs3c/premium_server/internal/pkg/response"
	"github.com/qs3c/premium_server/internal/service"
)

type PremiumHandler struct {
	entitlements *service.EntitlementService
	transfers    *service.TransferService
	plans        *service.PlanService
}

func NewPremiumHandler(
	entitlements *service.EntitlementService,
	transfers *service.TransferService,
	plans *service.PlanService,
) *PremiumHandler {
	return &PremiumHandler{
		entitlements: entitlements,
		transfers:    transfers,
		plans:        plans,
	}
}

// Plans 套餐列表
// GET /api/v1/premium/plans
func (h *PremiumHandler) Plans(c *gin.Context) {
	plans, err := h.plans.List()
	if err != nil {
		errorResponse(c, err)
		return
	}

	items := make([]dto.PlanItem, len(plans))
	for i := range plans {
		items[i] = dto.NewPlanItem(&plans[i])
	}
	response.SuccessList(c, len(items), items)
}

// Status 当前用户及（可选）服务器的会员状态
// GET /api/v1/premium/status?guild_id=xxx
func (h *PremiumHandler) Status(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var guildID int64
	if raw := c.Query("guild_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.ParamError(c, "无效的服务器 ID")
			return
		}
		guildID = id
	}

	user, guild, err := h.entitlements.Status(req.ActorID, guildID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.Success(c, dto.StatusResponse{
		User:  dto.NewEntitlementInfo(user),
		Guild: dto.NewEntitlementInfo(guild),
	})
}

// Activate 把自己的高级会员激活到服务器
// POST /api/v1/premium/guilds/:guild_id/activate
func (h *PremiumHandler) Activate(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	guildID, ok := paramID(c, "guild_id")
	if !ok {
		return
	}

	guild, err := h.entitlements.ActivateGuild(c.Request.Context(), req.ActorID, guildID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.SuccessWithMessage(c, "激活成功", dto.NewEntitlementInfo(guild))
}

// Deactivate 取消服务器的高级会员，仅限授予者或管理员
// POST /api/v1/premium/guilds/:guild_id/deactivate
func (h *PremiumHandler) Deactivate(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	guildID, ok := paramID(c, "guild_id")
	if !ok {
		return
	}

	guild, err := h.entitlements.DeactivateGuild(c.Request.Context(), req.ActorID, guildID, req.IsAdmin)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.SuccessWithMessage(c, "已取消", dto.NewEntitlementInfo(guild))
}

// Backup 下载服务器会员记录的 JSON 备份，仅限授予者或管理员
// GET /api/v1/premium/guilds/:guild_id/backup
func (h *PremiumHandler) Backup(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	guildID, ok := paramID(c, "guild_id")
	if !ok {
		return
	}

	guild, err := h.entitlements.BackupGuild(req.ActorID, guildID, req.IsAdmin)
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="premium_backup_%d.json"`, guildID))
	c.IndentedJSON(http.StatusOK, dto.NewGuildBackup(guild, time.Now()))
}

// Transfer 把服务器剩余的会员时长转移到另一个服务器
// POST /api/v1/premium/guilds/:guild_id/transfer
func (h *PremiumHandler) Transfer(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	sourceID, ok := paramID(c, "guild_id")
	if !ok {
		return
	}

	var body dto.TransferRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.transfers.Transfer(c.Request.Context(), sourceID, body.TargetGuildID, req.ActorID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.SuccessWithMessage(c, "转移成功", dto.TransferResponse{
		Source: dto.NewEntitlementInfo(result.Source),
		Target: dto.NewEntitlementInfo(result.Target),
	})
}
