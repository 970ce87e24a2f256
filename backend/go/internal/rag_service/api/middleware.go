package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"ragcompare/backend/go/internal/config"
)

const (
	// ctxAuthenticated 标记当前请求是否携带了有效的 token。
	ctxAuthenticated = "authenticated"
	// ctxSubject 是 token 中的 sub。
	ctxSubject = "subject"
)

// AuthMiddleware 创建一个 Gin 中间件，用于判定请求是否已认证。
//
// method 为 "none" 时所有请求都视为已认证。method 为 "jwt" 时，没有授权标头的请求
// 视为未认证并继续处理，授权标头格式错误或 token 无效时直接返回 401。
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	if cfg.Method != "jwt" {
		return func(c *gin.Context) {
			c.Set(ctxAuthenticated, true)
			c.Next()
		}
	}
	secret := []byte(cfg.JwtSecret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Set(ctxAuthenticated, false)
			c.Next()
			return
		}

		// 我们期望的格式是 "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthenticated", "malformed authorization header"))
			return
		}

		subject, err := verifyToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthenticated", err.Error()))
			return
		}
		c.Set(ctxAuthenticated, true)
		c.Set(ctxSubject, subject)
		c.Next()
	}
}

// verifyToken 校验 HS256 签名的 token 并返回其中的 sub。
func verifyToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// 确保 token 的签名方法是我们期望的
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	sub, ok := claims["sub"]
	if !ok {
		return "", errors.New("invalid token claims: missing sub")
	}
	// JWT 解析数字时默认为 float64
	if f, isNum := sub.(float64); isNum {
		return fmt.Sprintf("%.0f", f), nil
	}
	return fmt.Sprint(sub), nil
}

// authenticated 返回 AuthMiddleware 的判定结果。
func authenticated(c *gin.Context) bool {
	return c.GetBool(ctxAuthenticated)
}

// subject 返回 token 中的 sub，未认证时为空。
func subject(c *gin.Context) string {
	return c.GetString(ctxSubject)
}

// RequireOwner 要求请求的 sub 与创建会话时的 sub 一致。
// 认证关闭时会话没有 owner，不做检查。
func (h *Handler) RequireOwner(c *gin.Context) {
	if err := h.service.Authorize(c.Param("id"), subject(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Next()
}
