package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/apigate/pkg/notify"
	"github.com/nao1215/apigate/pkg/session"
)

// maxErrorBody はエラー応答から読み取るボディの上限（バイト）。
const maxErrorBody = 1 << 20

// ProgressFunc はダウンロードの進捗を受け取る。totalが不明な場合は-1。
type ProgressFunc func(done, total int64)

// RequestConfig は1回のリクエストの設定。送信後に変更されることはない。
type RequestConfig struct {
	// Method はHTTPメソッド。
	Method string
	// Endpoint はベースURLからの相対パス。
	Endpoint string
	// Body はリクエストボディ。[]byteとio.Readerはそのまま送信し、それ以外はJSONにする。
	Body any
	// Query はクエリパラメータ。
	Query map[string]string
	// Headers は追加のリクエストヘッダー。既定のヘッダーを上書きする。
	Headers map[string]string
	// ShowLoader はローディング表示を行うかどうか。
	ShowLoader bool
	// ShowSuccessAlert は成功メッセージを通知するかどうか。
	ShowSuccessAlert bool
	// ShowErrorAlert はエラーメッセージを通知するかどうか。
	ShowErrorAlert bool
	// ScrollToTop は成功時に画面を先頭までスクロールするかどうか。
	ScrollToTop bool
	// Progress はダウンロード進捗の通知先。Blob取得でのみ使用する。
	Progress ProgressFunc
}

// Option はRequestConfigの設定を変更する関数。
type Option func(*RequestConfig)

// WithQuery はクエリパラメータを設定する。
func WithQuery(q map[string]string) Option {
	return func(rc *RequestConfig) { rc.Query = q }
}

// WithHeaders は追加のリクエストヘッダーを設定する。
func WithHeaders(h map[string]string) Option {
	return func(rc *RequestConfig) { rc.Headers = h }
}

// WithLoader はローディング表示の有無を設定する。既定はtrue。
func WithLoader(show bool) Option {
	return func(rc *RequestConfig) { rc.ShowLoader = show }
}

// WithSuccessAlert は成功通知の有無を設定する。
// 既定は取得系でfalse、更新系でtrue。
func WithSuccessAlert(show bool) Option {
	return func(rc *RequestConfig) { rc.ShowSuccessAlert = show }
}

// WithErrorAlert はエラー通知の有無を設定する。既定はtrue。
func WithErrorAlert(show bool) Option {
	return func(rc *RequestConfig) { rc.ShowErrorAlert = show }
}

// WithScrollToTop は成功時に画面を先頭までスクロールさせる。
func WithScrollToTop() Option {
	return func(rc *RequestConfig) { rc.ScrollToTop = true }
}

// WithProgress はダウンロード進捗の通知先を設定する。
func WithProgress(fn ProgressFunc) Option {
	return func(rc *RequestConfig) { rc.Progress = fn }
}

// newConfig は既定値を適用したRequestConfigを生成する。
func newConfig(method, endpoint string, body any, mutating bool, opts []Option) RequestConfig {
	rc := RequestConfig{
		Method:           method,
		Endpoint:         endpoint,
		Body:             body,
		ShowLoader:       true,
		ShowSuccessAlert: mutating,
		ShowErrorAlert:   true,
	}
	for _, opt := range opts {
		opt(&rc)
	}
	return rc
}

// Response はAPIの成功応答。
type Response struct {
	// Status はHTTPステータスコード。
	Status int
	// Header は応答ヘッダー。
	Header http.Header
	// Payload はサーバーが返したボディ全体。messageフィールドも含む。
	Payload json.RawMessage
	// Message はボディのmessageフィールド。文字列でない場合は空。
	Message string
}

// Decode はPayloadをvにデシリアライズする。
func (r *Response) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}

// Get はGETリクエストを送信する。成功通知は既定で行わない。
func (c *Client) Get(ctx context.Context, endpoint string, opts ...Option) (*Response, error) {
	return c.Do(ctx, newConfig(http.MethodGet, endpoint, nil, false, opts))
}

// Post はPOSTリクエストを送信する。
func (c *Client) Post(ctx context.Context, endpoint string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, newConfig(http.MethodPost, endpoint, body, true, opts))
}

// Put はPUTリクエストを送信する。
func (c *Client) Put(ctx context.Context, endpoint string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, newConfig(http.MethodPut, endpoint, body, true, opts))
}

// Delete はDELETEリクエストを送信する。
func (c *Client) Delete(ctx context.Context, endpoint string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, newConfig(http.MethodDelete, endpoint, body, true, opts))
}

// Patch はPATCHリクエストを送信する。
func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, newConfig(http.MethodPatch, endpoint, body, true, opts))
}

// Do はrcに従ってリクエストを送信し、JSON応答を返す。
// 失敗時は常に*RequestErrorを返す。
func (c *Client) Do(ctx context.Context, rc RequestConfig) (*Response, error) {
	var out *Response
	err := c.execute(ctx, rc, func(resp *http.Response) error {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
		}
		out = &Response{
			Status:  resp.StatusCode,
			Header:  resp.Header,
			Payload: json.RawMessage(body),
			Message: extractMessage(body),
		}
		return nil
	}, func() string {
		return out.Message
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// execute は全リクエスト共通の処理を行う。
// ローディング表示 → 認証ヘッダー付与 → 送信 → 通知 の順に実行し、
// ローディング表示の解除は結果に関わらず必ず行う。
func (c *Client) execute(ctx context.Context, rc RequestConfig, onSuccess func(*http.Response) error, successMessage func() string) error {
	if rc.ShowLoader {
		c.indicator.Increment()
		defer c.indicator.Decrement()
	}

	started := time.Now()
	id := requestID(ctx)
	log := c.log.WithFields(logrus.Fields{
		"method":     rc.Method,
		"endpoint":   rc.Endpoint,
		"request_id": id,
	})

	status, err := c.roundTrip(ctx, rc, id, onSuccess)
	if err != nil {
		reqErr := fromTransport(ctx, err)
		c.handleFailure(rc, reqErr, log)
		return reqErr
	}

	log.WithFields(logrus.Fields{
		"status":   status,
		"duration": time.Since(started).String(),
	}).Debug("リクエストが完了しました")

	if rc.ScrollToTop {
		c.scroller.ScrollToTop()
	}
	if msg := successMessage(); rc.ShowSuccessAlert && msg != "" {
		c.notifier.Notify(notify.SeveritySuccess, msg)
	}
	return nil
}

// roundTrip は1回分のHTTP通信を行う。2xx以外の応答は*RequestErrorとして返す。
func (c *Client) roundTrip(ctx context.Context, rc RequestConfig, id string, onSuccess func(*http.Response) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req, err := c.newRequest(ctx, rc, id)
	if err != nil {
		return 0, &RequestError{Kind: KindUnknown, Message: err.Error(), Show: true, Err: err}
	}

	if err := c.authorize(ctx, req); err != nil {
		return 0, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fromStatus(resp.StatusCode, body)
	}

	if err := onSuccess(resp); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// newRequest はrcからHTTPリクエストを組み立てる。
func (c *Client) newRequest(ctx context.Context, rc RequestConfig, id string) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + rc.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("URLの組み立てに失敗: %w", err)
	}
	if len(rc.Query) > 0 {
		q := u.Query()
		for k, v := range rc.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	switch b := rc.Body.(type) {
	case nil:
	case io.Reader:
		bodyReader = b
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		jsonBody, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, rc.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", defaultContentType)
	req.Header.Set(headerKeyRequestID, id)
	for k, v := range rc.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// authorize はトークンが保存されていれば必要に応じて更新し、認証ヘッダーを付与する。
// トークンが無い場合は認証なしで送信する。
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil || !c.tokens.Exists(session.AccessTokenKey) {
		return nil
	}
	if c.session != nil {
		if err := c.session.RefreshIfNeeded(ctx); err != nil {
			return fromRefresh(ctx, err)
		}
	}
	token, _ := c.tokens.Read(session.AccessTokenKey)
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// handleFailure は失敗の分類に応じてセッション終了・通知・ログ出力を行う。
func (c *Client) handleFailure(rc RequestConfig, reqErr *RequestError, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{
		"kind":   reqErr.Kind.String(),
		"status": reqErr.Status,
	})

	switch reqErr.Kind {
	case KindSessionExpired:
		log.Info("セッション切れのためログアウトします")
		c.endSession()
	case KindAPI:
		log.WithField("message", reqErr.Message).Info("APIがエラーを返しました")
		if rc.ShowErrorAlert && reqErr.Message != "" {
			c.notifier.Notify(notify.SeverityError, reqErr.Message)
		}
	case KindNetwork:
		log.WithError(reqErr.Err).Info("接続先に到達できません")
	case KindCanceled:
		log.Debug("リクエストがキャンセルされました")
	default:
		log.WithError(reqErr.Err).Warn("リクエストに失敗しました")
	}
}

// endSession は保存済みのトークンを削除し、再ログイン先へ誘導する。
func (c *Client) endSession() {
	if c.tokens != nil {
		if err := c.tokens.Clear(); err != nil {
			c.log.WithError(err).Warn("トークンの削除に失敗")
		}
	}
	if c.session != nil {
		c.session.EndSession(c.authRedirect)
	}
}

// extractMessage はJSONボディのmessageフィールドが文字列であれば返す。
func extractMessage(body []byte) string {
	var envelope struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	msg, _ := envelope.Message.(string)
	return msg
}
