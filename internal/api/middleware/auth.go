package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/premium_server/internal/pkg/jwt"
	"github.com/qs3c/premium_server/internal/pkg/response"
)

const (
	UserIDKey  = "userID"
	RequestKey = "premiumRequest"
)

// Request 每个请求只构建一次的调用方信息
type Request struct {
	ActorID int64
	IsAdmin bool
}

// AdminChecker 判断用户是否为管理员
type AdminChecker func(userID int64) bool

// Auth JWT 认证中间件，同时确定调用方是否拥有管理员能力
func Auth(jwtSecret string, isAdmin AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		SetRequest(c, Request{
			ActorID: claims.UserID,
			IsAdmin: isAdmin != nil && isAdmin(claims.UserID),
		})
		c.Next()
	}
}

// RequireAdmin 必须在 Auth 之后使用
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := GetRequest(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}
		if !req.IsAdmin {
			response.PermissionError(c, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

func SetRequest(c *gin.Context, req Request) {
	c.Set(RequestKey, req)
	c.Set(UserIDKey, req.ActorID)
}

func GetRequest(c *gin.Context) (Request, bool) {
	v, exists := c.Get(RequestKey)
	if !exists {
		return Request{}, false
	}
	req, ok := v.(Request)
	return req, ok
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
