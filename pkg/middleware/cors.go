package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderKeyRequestID はゲートウェイがリクエストごとに付与する識別子のヘッダーキー。
const HeaderKeyRequestID = "X-Request-ID"

// corsMethods はゲートウェイが送信するHTTPメソッド。
var corsMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// corsRequestHeaders はゲートウェイが付与するリクエストヘッダー。
var corsRequestHeaders = []string{"Authorization", "Content-Type", HeaderKeyRequestID}

// CORS はallowedOriginsからのゲートウェイ呼び出しを許可するGinミドルウェアを返す。
// オリジンは末尾のスラッシュを無視して比較する。許可されていないオリジンからの
// プリフライトは403で拒否し、Originを持たないOPTIONSは204で終了する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	methods := strings.Join(corsMethods, ", ")
	headers := strings.Join(corsRequestHeaders, ", ")

	return func(c *gin.Context) {
		c.Header("Vary", "Origin")

		origin := c.GetHeader("Origin")
		_, allowed := origins[normalizeOrigin(origin)]
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Expose-Headers", HeaderKeyRequestID)
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if origin != "" && !allowed {
			AbortWithError(c, http.StatusForbidden, "許可されていないオリジンです")
			return
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

// ParseOrigins はカンマ区切りのオリジン一覧を分割する。
func ParseOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = normalizeOrigin(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.TrimSpace(o), "/")
}
