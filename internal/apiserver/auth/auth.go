// Package auth API 访问令牌：JWT 签发、校验和 HTTP 中间件
//
// 未配置 JWT_SECRET 时不启用认证，所有请求直接放行。
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey context 键类型
type contextKey string

const ctxKeyAuthUser contextKey = "auth_user"

// 令牌类型
const (
	TokenTypeAccess = "access"
)

// AuthUser 从 JWT 解析出的调用方
type AuthUser struct {
	ID   string
	Role string
}

// Config 认证配置
type Config struct {
	JWTSecret      string
	Issuer         string
	AccessTokenTTL time.Duration
}

// DefaultConfig 返回默认认证配置
func DefaultConfig() Config {
	return Config{
		Issuer:         "agents-eval",
		AccessTokenTTL: 24 * time.Hour,
	}
}

// Enabled 是否启用认证
func (c Config) Enabled() bool {
	return c.JWTSecret != ""
}

// Claims JWT 声明
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
	Type string `json:"type,omitempty"`
}

// GenerateAccessToken 生成访问令牌（evalctl token 和测试使用）
func GenerateAccessToken(cfg Config, subject, role string) (string, error) {
	if !cfg.Enabled() {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultConfig().AccessTokenTTL
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Type: TokenTypeAccess,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseToken 解析并验证 JWT，配置了 Issuer 时同时校验签发方
func ParseToken(cfg Config, tokenString string) (*Claims, error) {
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// WithAuthUser 将调用方信息注入 context
func WithAuthUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, ctxKeyAuthUser, user)
}

// GetAuthUser 从 context 获取调用方，未认证时返回 nil
func GetAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(ctxKeyAuthUser).(*AuthUser)
	return user
}
