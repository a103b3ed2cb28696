package handler

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/api/middleware"
	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/model/dto"
	"github.com/qs3c/premium_server/internal/pkg/oss"
	"github.com/qs3c/premium_server/internal/pkg/response"
	"github.com/qs3c/premium_server/internal/service"
)

type TransactionHandler struct {
	transactions *service.TransactionService
	premium      config.PremiumConfig
	maxProofSize int64
}

func NewTransactionHandler(transactions *service.TransactionService, premium config.PremiumConfig, maxProofSize int64) *TransactionHandler {
	return &TransactionHandler{
		transactions: transactions,
		premium:      premium,
		maxProofSize: maxProofSize,
	}
}

// Create 下单购买服务器会员
// POST /api/v1/premium/transactions
func (h *TransactionHandler) Create(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var body dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	txn, plan, err := h.transactions.Create(c.Request.Context(), req.ActorID, body.GuildID, body.PlanID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.SuccessWithMessage(c, "下单成功，请在付款后提交凭证", dto.PaymentInstructions{
		Transaction:       dto.NewTransactionItem(txn),
		PlanName:          plan.Name,
		UPIID:             h.premium.UPIID,
		PaymentWindowDays: h.premium.PaymentWindowDays,
	})
}

// Get 交易详情，仅下单用户或管理员可见
// GET /api/v1/premium/transactions/:txn_id
func (h *TransactionHandler) Get(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	txn, err := h.transactions.Get(c.Param("txn_id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	if txn.UserID != req.ActorID && !req.IsAdmin {
		// 对其他人表现为不存在
		errorResponse(c, service.ErrTransactionNotFound)
		return
	}

	response.Success(c, dto.NewTransactionItem(txn))
}

// ListMine 当前用户的交易
// GET /api/v1/premium/transactions
func (h *TransactionHandler) ListMine(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	list, err := h.transactions.ListByUser(req.ActorID, queryLimit(c))
	if err != nil {
		errorResponse(c, err)
		return
	}
	response.SuccessList(c, len(list), transactionItems(list))
}

// SubmitProof 提交付款凭证链接
// POST /api/v1/premium/transactions/:txn_id/proof
func (h *TransactionHandler) SubmitProof(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var body dto.SubmitProofRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	txn, err := h.transactions.SubmitProof(c.Request.Context(), c.Param("txn_id"), req.ActorID, body.ProofURL)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.SuccessWithMessage(c, "凭证已提交，等待审核", dto.NewTransactionItem(txn))
}

// UploadProof 上传付款截图作为凭证
// POST /api/v1/premium/transactions/:txn_id/proof/upload
func (h *TransactionHandler) UploadProof(c *gin.Context) {
	req, ok := middleware.GetRequest(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "请选择文件")
		return
	}
	if file.Size > h.maxProofSize {
		response.ParamError(c, "文件过大")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if oss.ContentType(ext) == "" {
		response.ParamError(c, "只支持 jpg/png/gif/webp 格式")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.ServerError(c, "文件读取失败")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxProofSize+1))
	if err != nil {
		response.ServerError(c, "文件读取失败")
		return
	}
	if int64(len(data)) > h.maxProofSize {
		response.ParamError(c, "文件过大")
		return
	}

	txn, err := h.transactions.UploadProof(c.Request.Context(), c.Param("txn_id"), req.ActorID, data, ext)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response.SuccessWithMessage(c, "凭证已上传，等待审核", dto.NewTransactionItem(txn))
}

func transactionItems(list []model.Transaction) []dto.TransactionItem {
	items := make([]dto.TransactionItem, len(list))
	for i := range list {
		items[i] = dto.NewTransactionItem(&list[i])
	}
	return items
}
