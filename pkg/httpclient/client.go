package httpclient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nao1215/apigate/pkg/loading"
	"github.com/nao1215/apigate/pkg/notify"
	"github.com/nao1215/apigate/pkg/session"
)

// defaultContentType は全リクエストに付与するContent-Type。
const defaultContentType = "application/json; charset=UTF-8"

// SessionController はトークンの更新とセッション終了を担う。
// *session.Controller が実装する。
type SessionController interface {
	// RefreshIfNeeded は残り有効期間が短いトークンを更新する。
	RefreshIfNeeded(ctx context.Context) error
	// EndSession はセッションを終了し、redirectTargetへの再ログインを促す。
	EndSession(redirectTarget string)
}

// Scroller は画面を先頭までスクロールする。
type Scroller interface {
	ScrollToTop()
}

// ScrollerFunc は関数をScrollerとして扱うためのアダプタ。
type ScrollerFunc func()

// ScrollToTop はf()を呼び出す。
func (f ScrollerFunc) ScrollToTop() { f() }

// Client は認証ヘッダーの付与、ローディング表示、通知、エラーの正規化を
// 全てのリクエストに共通して適用するHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// timeout はhttpClientに適用するタイムアウト。0の場合はhttpClientの設定を使う。
	timeout time.Duration
	// baseURL は接続先APIのベースURL。
	baseURL string
	// tokens はアクセストークンの保存先。nilの場合は認証ヘッダーを付与しない。
	tokens session.TokenStore
	// session はトークン更新とセッション終了を担う。
	session SessionController
	// notifier は成功・エラーメッセージの表示先。
	notifier notify.Channel
	// indicator は共有のローディングカウンタ。
	indicator *loading.Indicator
	// scroller は画面スクロールを行う。
	scroller Scroller
	// limiter は送信レートを制限する。nilの場合は制限しない。
	limiter *rate.Limiter
	// authRedirect はセッション切れ時の再ログイン先。
	authRedirect string
	// log はロガー。
	log *logrus.Entry
}

// ClientOption はClientの設定を変更する関数。
type ClientOption func(*Client)

// WithTokenStore はアクセストークンの保存先を設定する。
func WithTokenStore(store session.TokenStore) ClientOption {
	return func(c *Client) { c.tokens = store }
}

// WithSession はトークン更新とセッション終了を担うコントローラを設定する。
func WithSession(s SessionController) ClientOption {
	return func(c *Client) { c.session = s }
}

// WithNotifier は通知の表示先を設定する。
func WithNotifier(n notify.Channel) ClientOption {
	return func(c *Client) { c.notifier = n }
}

// WithIndicator は共有するローディングカウンタを設定する。
func WithIndicator(ind *loading.Indicator) ClientOption {
	return func(c *Client) { c.indicator = ind }
}

// WithScroller は成功時の画面スクロール処理を設定する。
func WithScroller(s Scroller) ClientOption {
	return func(c *Client) { c.scroller = s }
}

// WithLogger はロガーを設定する。
func WithLogger(log *logrus.Entry) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。nilは無視する。
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout はHTTPクライアントのタイムアウトを設定する。
// WithHTTPClientで渡したクライアントは変更せず、複製に適用する。
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit は1秒あたりの送信数とバースト数で送信レートを制限する。
// rpsが0以下の場合は制限しない。
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAuthRedirect はセッション切れ時の再ログイン先を設定する。
func WithAuthRedirect(url string) ClientOption {
	return func(c *Client) { c.authRedirect = url }
}

// New は新しいClientを生成する。
// baseURLには接続先APIのベースURL（例: "http://localhost:8080/api/v1"）を指定する。
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		scroller: ScrollerFunc(func() {}),
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if c.indicator == nil {
		c.indicator = loading.New(nil, loading.WithLogger(c.log))
	}
	if c.notifier == nil {
		c.notifier = notify.NewLogChannel(c.log)
	}
	return c
}

// Transport は内部のHTTPクライアントを返す。
// ゲートウェイの共通処理を通さずにリクエストを送る場合に使用する。
func (c *Client) Transport() *http.Client {
	return c.httpClient
}

// Indicator はこのClientが使用するローディングカウンタを返す。
func (c *Client) Indicator() *loading.Indicator {
	return c.indicator
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// headerKeyRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const headerKeyRequestID = "X-Request-ID"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 設定されていない場合はリクエストごとにUUIDを生成する。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// requestID はコンテキストのリクエストIDを返す。無ければ新しく生成する。
func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}
