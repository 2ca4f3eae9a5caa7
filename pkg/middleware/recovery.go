package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にログを出力し、{"message", "status"} 形式の500エラーを返す。
func Recovery(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"panic":  r,
				}).Error("パニックが発生しました")
				AbortWithError(c, http.StatusInternalServerError, "内部サーバーエラーが発生しました")
			}
		}()
		c.Next()
	}
}

// RequestLogger はリクエストごとにメソッド・パス・ステータス・所要時間をログに出力する
// Ginミドルウェアを返す。
func RequestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetHeader(HeaderKeyRequestID),
			"duration":   time.Since(started).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("リクエストを処理しました")
			return
		}
		entry.Debug("リクエストを処理しました")
	}
}
