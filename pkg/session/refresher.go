package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EndpointRefresher はトークン発行エンドポイントにリフレッシュトークンをPOSTして
// 新しいトークンを取得するRefresher。
type EndpointRefresher struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// url はトークン発行エンドポイントのURL。
	url string
}

// NewEndpointRefresher は新しいEndpointRefresherを生成する。
func NewEndpointRefresher(url string) *EndpointRefresher {
	return &EndpointRefresher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
	}
}

// StatusError はトークン発行エンドポイントが2xx以外を返したことを表す。
type StatusError struct {
	// Status はHTTPステータスコード。
	Status int
	// Body は応答ボディ。
	Body string
}

// Error はステータスコードと応答ボディを含むメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.Status, e.Body)
}

// Rejected はリフレッシュトークン自体が受け付けられなかったかを返す。
func (e *StatusError) Rejected() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized
}

// refreshRequest はトークン更新リクエストのJSON構造。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh はrefreshTokenを送信し、新しいトークンの組を返す。
func (r *EndpointRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Tokens{}, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Tokens{}, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return Tokens{}, fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return tokens, nil
}
