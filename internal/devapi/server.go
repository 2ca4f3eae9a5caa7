package devapi

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/apigate/internal/config"
	"github.com/nao1215/apigate/pkg/middleware"
)

// devSubject は主体が指定されなかった場合の開発用ユーザー。
const devSubject = "dev-user"

// Server は開発用バックエンドのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// accessTTL はアクセストークンの有効期間。
	accessTTL time.Duration
	// refreshTTL はリフレッシュトークンの有効期間。
	refreshTTL time.Duration
	// items はアイテムの保存先。
	items *itemStore
	// files はアップロードされたファイルの保存先。
	files *fileStore
	// mu はusedRefreshを保護する。
	mu sync.Mutex
	// usedRefresh は使用済みリフレッシュトークンのjti。
	usedRefresh map[string]struct{}
	// log はロガー。
	log *logrus.Entry
}

// NewServer は新しい開発用バックエンドを生成する。
func NewServer(cfg *config.Config, log *logrus.Entry) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(middleware.ParseOrigins(cfg.FrontendURL)))

	s := &Server{
		router:      router,
		port:        cfg.Port,
		jwtSecret:   cfg.JWTSecret,
		accessTTL:   cfg.AccessTokenTTL,
		refreshTTL:  cfg.RefreshTokenTTL,
		items:       newItemStore(),
		files:       newFileStore(),
		usedRefresh: make(map[string]struct{}),
		log:         log,
	}
	s.setupRoutes()
	return s
}

// Handler はサーバーのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// トークン発行（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/dev-token", s.handleDevToken())
		auth.POST("/refresh", s.handleRefresh())
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		items := api.Group("/items")
		{
			items.GET("", s.handleListItems())
			items.POST("", s.handleCreateItem())
			items.GET("/:id", s.handleGetItem())
			items.PUT("/:id", s.handleReplaceItem())
			items.PATCH("/:id", s.handleUpdateItem())
			items.DELETE("/:id", s.handleDeleteItem())
		}

		files := api.Group("/files")
		{
			files.POST("", s.handleUploadFile())
			files.GET("/:name", s.handleDownloadFile())
		}

		// 任意の応答形式を返す
		api.GET("/fail/:status", s.handleFail())
		api.GET("/fail-plain/:status", s.handleFailPlain())
		api.GET("/slow", s.handleSlow())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "devapi"})
	})
}

// tokenPair はトークン発行の応答。
type tokenPair struct {
	// Token はアクセストークン。
	Token string `json:"token"`
	// RefreshToken はリフレッシュトークン。
	RefreshToken string `json:"refresh_token"`
}

// issue はsubjectのアクセストークンとリフレッシュトークンを発行する。
func (s *Server) issue(subject string) (tokenPair, error) {
	access, err := middleware.GenerateJWT(s.jwtSecret, subject, middleware.TokenTypeAccess, s.accessTTL)
	if err != nil {
		return tokenPair{}, err
	}
	refresh, err := middleware.GenerateJWT(s.jwtSecret, subject, middleware.TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return tokenPair{}, err
	}
	return tokenPair{Token: access, RefreshToken: refresh}, nil
}

// handleDevToken は開発用トークンを発行するハンドラを返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject"`
		}
		// ボディは省略可能
		_ = c.ShouldBindJSON(&req)
		if req.Subject == "" {
			req.Subject = devSubject
		}

		pair, err := s.issue(req.Subject)
		if err != nil {
			s.log.WithError(err).Error("トークンの発行に失敗")
			middleware.AbortWithError(c, http.StatusInternalServerError, "トークン生成に失敗しました")
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}

// errRefreshReused は使用済みのリフレッシュトークンが再利用された場合のエラー。
var errRefreshReused = errors.New("リフレッシュトークンは使用済みです")

// consumeRefresh はリフレッシュトークンを検証し、使用済みとして記録する。
func (s *Server) consumeRefresh(token string) (string, error) {
	claims, err := middleware.ParseJWT(s.jwtSecret, token, middleware.TokenTypeRefresh)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.usedRefresh[claims.ID]; used {
		return "", errRefreshReused
	}
	s.usedRefresh[claims.ID] = struct{}{}
	return claims.Subject, nil
}

// handleRefresh はリフレッシュトークンと引き換えに新しいトークンを発行するハンドラを返す。
// リフレッシュトークンは1回だけ使用できる。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, "refresh_token は必須です")
			return
		}

		subject, err := s.consumeRefresh(req.RefreshToken)
		if err != nil {
			s.log.WithError(err).Info("トークンの更新を拒否しました")
			middleware.AbortWithError(c, http.StatusUnauthorized, "リフレッシュトークンが無効です")
			return
		}

		pair, err := s.issue(subject)
		if err != nil {
			s.log.WithError(err).Error("トークンの発行に失敗")
			middleware.AbortWithError(c, http.StatusInternalServerError, "トークン生成に失敗しました")
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}
