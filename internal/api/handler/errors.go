package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/premium_server/internal/pkg/response"
	"github.com/qs3c/premium_server/internal/service"
)

// errorResponse 按错误类别映射响应码，存储错误不向调用方暴露细节
func errorResponse(c *gin.Context, err error) {
	var message string
	var e *service.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	switch service.KindOf(err) {
	case service.KindValidation:
		response.ParamError(c, message)
	case service.KindNotFound:
		response.NotFoundError(c, message)
	case service.KindConflict:
		response.ConflictError(c, message)
	case service.KindAuthorization:
		response.PermissionError(c, message)
	default:
		zap.L().Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.ServerError(c, "")
	}
}

// paramID 解析路径中的正整数 ID
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的 ID")
		return 0, false
	}
	return id, true
}

// queryLimit 解析 limit 参数，缺省或非法时返回 0，由服务层使用默认值
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}
