package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/premium_server/internal/api/middleware"
	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/model/dto"
	"github.com/qs3c/premium_server/internal/pkg/duration"
	"github.com/qs3c/premium_server/internal/pkg/response"
	"github.com/qs3c/premium_server/internal/service"
)

// Sweeper 手动触发到期扫描
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

// AdminHandler 管理员接口，路由层已经过 RequireAdmin
type AdminHandler struct {
	entitlements *service.EntitlementService
	transactions *service.TransactionService
	sweeper      Sweeper
	minGrant     time.Duration
}

func NewAdminHandler(
	entitlements *service.EntitlementService,
	transactions *service.TransactionService,
	sweeper Sweeper,
	minGrant time.Duration,
) *AdminHandler {
	return &AdminHandler{
		entitlements: entitlements,
		transactions: transactions,
		sweeper:      sweeper,
		minGrant:     minGrant,
	}
}

// Get 查询用户或服务器的会员状态
// GET /api/v1/admin/premium/{users|guilds}/:id
func (h *AdminHandler) Get(kind model.SubjectKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}

		e, err := h.entitlements.Get(kind, id)
		if err != nil {
			errorResponse(c, err)
			return
		}
		response.Success(c, dto.NewEntitlementInfo(e))
	}
}

// Grant 授予高级会员
// POST /api/v1/admin/premium/{users|guilds}/:id/grant
func (h *AdminHandler) Grant(kind model.SubjectKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := middleware.GetRequest(c)
		if !ok {
			response.AuthError(c, "")
			return
		}
		id, ok := paramID(c, "id")
		if !ok {
			return
		}

		var body dto.GrantRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			response.ParamError(c, err.Error())
			return
		}
		d, err := duration.Parse(body.Duration)
		if err != nil {
			response.ParamError(c, err.Error())
			return
		}
		if d != nil && *d < h.minGrant {
			response.ParamError(c, fmt.Sprintf("授予时长不能少于 %s", h.minGrant))
			return
		}

		e, err := h.entitlements.Grant(c.Request.Context(), kind, id, d, req.ActorID)
		if err != nil {
			errorResponse(c, err)
			return
		}
		response.SuccessWithMessage(c, "授予成功", dto.NewEntitlementInfo(e))
	}
}

// Revoke 撤销高级会员，未激活时同样返回成功
// POST /api/v1/admin/premium/{users|guilds}/:id/revoke
func (h *AdminHandler) Revoke(kind model.SubjectKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}

		e, err := h.entitlements.Revoke(c.Request.Context(), kind, id)
		if err != nil {
			errorResponse(c, err)
			return
		}
		response.SuccessWithMessage(c, "已撤销", dto.NewEntitlementInfo(e))
	}
}

// ListTransactions 审核队列，默认列出待审核交易
// GET /api/v1/admin/premium/transactions?status=pending_verification&limit=50
func (h *AdminHandler) ListTransactions(c *gin.Context) {
	status := model.TxnPendingVerification
	if raw := c.Query("status"); raw != "" {
		status = model.TransactionStatus(raw)
	}

	list, err := h.transactions.ListByStatus(status, queryLimit(c))
	if err != nil {
		errorResponse(c, err)
		return
	}
	response.SuccessList(c, len(list), transactionItems(list))
}

// Verify 审核通过
// POST /api/v1/admin/premium/transactions/:txn_id/verify
func (h *AdminHandler) Verify(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	txn, err := h.transactions.Verify(c.Request.Context(), c.Param("txn_id"), req.ActorID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	response.SuccessWithMessage(c, "审核通过", dto.NewTransactionItem(txn))
}

// Deny 拒绝
// POST /api/v1/admin/premium/transactions/:txn_id/deny
func (h *AdminHandler) Deny(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	txn, err := h.transactions.Deny(c.Request.Context(), c.Param("txn_id"), req.ActorID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	response.SuccessWithMessage(c, "已拒绝", dto.NewTransactionItem(txn))
}

// Sweep 立即执行一次到期扫描
// POST /api/v1/admin/premium/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	response.Success(c, dto.SweepResult{Users: result.Users, Guilds: result.Guilds})
}
