package auth

import (
	"log"
	"net/http"
	"strings"
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/health",
	"/metrics",
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bearerToken 提取令牌，WebSocket 握手无法携带请求头，允许通过 access_token 查询参数传递
func bearerToken(r *http.Request) (string, string) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", "invalid authorization header"
		}
		return parts[1], ""
	}
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, ""
		}
	}
	return "", "missing authorization header"
}

// Middleware 创建 JWT 认证中间件
// 如果 cfg.Enabled() == false，直接放行所有请求（无认证模式）
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() || r.Method == http.MethodOptions || isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, problem := bearerToken(r)
			if problem != "" {
				http.Error(w, `{"error":"`+problem+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(cfg, token)
			if err != nil {
				log.Printf("[auth] token parse error: %v", err)
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			if claims.Type != TokenTypeAccess {
				http.Error(w, `{"error":"invalid token type"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithAuthUser(r.Context(), &AuthUser{ID: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
