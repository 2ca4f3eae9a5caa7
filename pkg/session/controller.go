package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// DefaultMinValidity は更新せずに使用できるトークンの最小残り有効期間。
const DefaultMinValidity = 30 * time.Second

// ErrTokenExpired はトークンの有効期限が切れており、更新もできないことを表す。
var ErrTokenExpired = errors.New("トークンの有効期限が切れています")

// Tokens は認証サーバーから発行されたトークンの組。
type Tokens struct {
	// AccessToken はAPI呼び出しに使用するトークン。
	AccessToken string `json:"token"`
	// RefreshToken はAccessTokenの再発行に使用するトークン。空の場合は保存済みのものを使い続ける。
	RefreshToken string `json:"refresh_token"`
}

// Refresher はリフレッシュトークンから新しいトークンを取得する。
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// RefresherFunc は関数をRefresherとして扱うためのアダプタ。
type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

// Refresh はf(ctx, refreshToken)を呼び出す。
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

// LogoutFunc はセッション終了時に、再ログイン先を受け取って呼び出される。
type LogoutFunc func(redirectTarget string)

// Controller はトークンの更新判定とセッション終了を行う。
type Controller struct {
	// mu は同時に複数の更新処理が走らないようにする。
	mu          sync.Mutex
	store       TokenStore
	refresher   Refresher
	minValidity time.Duration
	onLogout    LogoutFunc
	now         func() time.Time
	log         *logrus.Entry
}

// ControllerOption はControllerの設定を変更する関数。
type ControllerOption func(*Controller)

// WithRefresher はトークンの更新方法を設定する。
func WithRefresher(r Refresher) ControllerOption {
	return func(c *Controller) { c.refresher = r }
}

// WithMinValidity は更新を行う残り有効期間の閾値を設定する。
func WithMinValidity(d time.Duration) ControllerOption {
	return func(c *Controller) { c.minValidity = d }
}

// WithLogout はセッション終了時に呼ばれる関数を設定する。
func WithLogout(fn LogoutFunc) ControllerOption {
	return func(c *Controller) { c.onLogout = fn }
}

// WithControllerLogger はロガーを設定する。
func WithControllerLogger(log *logrus.Entry) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// NewController は新しいControllerを生成する。
func NewController(store TokenStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:       store,
		minValidity: DefaultMinValidity,
		now:         time.Now,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefreshIfNeeded はアクセストークンの残り有効期間がminValidityを下回っていれば更新する。
// 有効期限を読み取れないトークンはそのまま使用する。
func (c *Controller) RefreshIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, ok := c.store.Read(AccessTokenKey)
	if !ok {
		return ErrNoToken
	}

	remaining, ok := c.remaining(token)
	if !ok || remaining >= c.minValidity {
		return nil
	}

	if c.refresher == nil {
		if remaining <= 0 {
			return ErrTokenExpired
		}
		return nil
	}

	refreshToken, ok := c.store.Read(RefreshTokenKey)
	if !ok {
		return fmt.Errorf("トークンの更新に失敗: %w", ErrNoToken)
	}

	tokens, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("トークンの更新に失敗: %w", err)
	}
	if tokens.AccessToken == "" {
		return fmt.Errorf("トークンの更新に失敗: %w", ErrNoToken)
	}
	if err := c.store.Write(AccessTokenKey, tokens.AccessToken); err != nil {
		return err
	}
	if tokens.RefreshToken != "" {
		if err := c.store.Write(RefreshTokenKey, tokens.RefreshToken); err != nil {
			return err
		}
	}
	c.log.WithField("remaining", remaining.String()).Debug("アクセストークンを更新しました")
	return nil
}

// EndSession は保存済みのトークンを全て削除し、再ログイン先を通知する。
func (c *Controller) EndSession(redirectTarget string) {
	if err := c.store.Clear(); err != nil {
		c.log.WithError(err).Warn("セッション終了時のトークン削除に失敗")
	}
	c.log.WithField("redirect", redirectTarget).Info("セッションを終了しました")
	if c.onLogout != nil {
		c.onLogout(redirectTarget)
	}
}

// remaining はJWTのexpクレームから残り有効期間を求める。
// JWTでない場合やexpが無い場合はfalseを返す。署名は検証しない。
func (c *Controller) remaining(token string) (time.Duration, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	if claims.ExpiresAt == nil {
		return 0, false
	}
	return claims.ExpiresAt.Sub(c.now()), true
}
