package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"leomail/backend/internal/auth/jwt"
)

// ContextUserID 认证后写入 gin.Context 的用户 ID 键
const ContextUserID = "userID"

// TokenValidator 访问令牌校验
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	validator TokenValidator
	log       *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(validator TokenValidator, logger *zap.Logger) *JWTAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTAuth{
		validator: validator,
		log:       logger,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "需要登录")
			return
		}

		claims, err := ja.validator.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			msg := "令牌无效"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "令牌已过期"
			}
			abort(c, http.StatusUnauthorized, msg)
			return
		}

		c.Set(ContextUserID, claims.UserID())
		c.Set("email", claims.Email)

		c.Next()
	}
}

// UserID 返回当前请求的用户 ID，未认证时为空
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// ExtractToken 从请求中提取JWT token
func ExtractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// 2. 浏览器 WebSocket 无法设置请求头，允许查询参数
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// abort 以统一响应结构终止请求
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}
