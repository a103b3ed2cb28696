package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeConflict         = 1004
	CodeTooManyRequests  = 1005
	CodeServerError      = 5000
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeConflict:         "状态冲突",
	CodeTooManyRequests:  "请求过于频繁",
	CodeServerError:      "服务器内部错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ListData 列表数据
type ListData struct {
	Total int         `json:"total"`
	Items interface{} `json:"items"`
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, "success", data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

func SuccessList(c *gin.Context, total int, items interface{}) {
	Success(c, ListData{Total: total, Items: items})
}

// Error 错误响应，message 为空时使用错误码默认消息
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string)      { Error(c, CodeParamError, message) }
func AuthError(c *gin.Context, message string)       { Error(c, CodeAuthFailed, message) }
func PermissionError(c *gin.Context, message string) { Error(c, CodePermissionDenied, message) }
func NotFoundError(c *gin.Context, message string)   { Error(c, CodeResourceNotFound, message) }
func ConflictError(c *gin.Context, message string)   { Error(c, CodeConflict, message) }
func ServerError(c *gin.Context, message string)     { Error(c, CodeServerError, message) }

// TooManyRequests 限流，额外设置 HTTP 429
func TooManyRequests(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeTooManyRequests]
	}
	c.JSON(http.StatusTooManyRequests, Response{
		Code:    CodeTooManyRequests,
		Message: message,
	})
}
