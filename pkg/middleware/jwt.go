package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// トークンの種類。アクセストークンとリフレッシュトークンを取り違えないために
// クレームに埋め込む。
const (
	// TokenTypeAccess はAPI呼び出しに使うトークン。
	TokenTypeAccess = "access"
	// TokenTypeRefresh はアクセストークンの再発行にのみ使うトークン。
	TokenTypeRefresh = "refresh"
)

// issuer はトークンの発行者名。
const issuer = "apigate-devapi"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// TokenType はトークンの種類（access または refresh）。
	TokenType string `json:"typ"`
}

// headerKeySubject は認証済みの主体を応答に付与するHTTPヘッダーキー。
const headerKeySubject = "X-User-ID"

// ErrTokenType はトークンの種類が期待と異なる場合のエラー。
var ErrTokenType = errors.New("トークンの種類が不正です")

// GenerateJWT はsubjectを主体とするtokenType種別のJWTトークンを生成する。
// 有効期限はttl後。jtiには毎回新しいUUIDを設定する。
func GenerateJWT(secret, subject, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークンを検証し、種類がtokenTypeであればクレームを返す。
func ParseJWT(secret, tokenString, tokenType string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	if claims.TokenType != tokenType {
		return nil, ErrTokenType
	}
	return claims, nil
}

// AbortWithError は {"message": ..., "status": ...} 形式のエラー応答を返して処理を中断する。
func AbortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"message": message,
		"status":  status,
	})
}

// JWTAuth はアクセストークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "subject" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, http.StatusUnauthorized, "Authorizationヘッダーが必要です")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			AbortWithError(c, http.StatusUnauthorized, "Bearer トークン形式が不正です")
			return
		}

		claims, err := ParseJWT(secret, tokenString, TokenTypeAccess)
		if err != nil {
			AbortWithError(c, http.StatusUnauthorized, "トークンが無効です")
			return
		}

		c.Set("subject", claims.Subject)
		c.Header(headerKeySubject, claims.Subject)
		c.Next()
	}
}

// GetSubject はGinコンテキストから認証済みの主体を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetSubject(c *gin.Context) string {
	subject, _ := c.Get("subject")
	if s, ok := subject.(string); ok {
		return s
	}
	return ""
}
