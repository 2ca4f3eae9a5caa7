// Package cli はゲートウェイを端末から操作するapicliコマンドを実装する。
//
// 各サブコマンドは設定から組み立てたゲートウェイを通じてAPIを呼び出し、
// ローディング表示と通知を標準エラー出力に、応答ボディを標準出力に書き出す。
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/apigate/internal/config"
	"github.com/nao1215/apigate/pkg/httpclient"
	"github.com/nao1215/apigate/pkg/loading"
	"github.com/nao1215/apigate/pkg/notify"
	"github.com/nao1215/apigate/pkg/session"
)

// 終了コード。
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usage はコマンドの使い方。
const usage = `使い方: apicli <command> [flags] [endpoint]

コマンド:
  login      開発用トークンを取得して保存する
  logout     保存済みトークンを削除する
  get        GETリクエストを送信する
  post       POSTリクエストを送信する（-d でJSONボディ）
  put        PUTリクエストを送信する
  patch      PATCHリクエストを送信する
  delete     DELETEリクエストを送信する
  get-blob   バイナリを取得する（-o で保存先）
  post-blob  ファイルを送信する（-f でファイル、-type でContent-Type）
`

// App はapicliの実行環境。
type App struct {
	cfg    *config.Config
	log    *logrus.Entry
	stdout io.Writer
	stderr io.Writer
}

// New は新しいAppを生成する。
func New(cfg *config.Config, log *logrus.Entry, stdout, stderr io.Writer) *App {
	return &App{cfg: cfg, log: log, stdout: stdout, stderr: stderr}
}

// Run はargsで指定されたサブコマンドを実行し、終了コードを返す。
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, usage)
		return exitUsage
	}

	store, closeStore, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		fmt.Fprintf(a.stderr, "エラー: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := closeStore(); err != nil {
			a.log.WithError(err).Warn("トークン保存先のクローズに失敗")
		}
	}()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, store, rest)
	case "logout":
		if err := store.Clear(); err != nil {
			fmt.Fprintf(a.stderr, "エラー: %v\n", err)
			return exitFailure
		}
		fmt.Fprintln(a.stderr, "ログアウトしました")
		return exitOK
	case "get", "post", "put", "patch", "delete", "get-blob", "post-blob":
		return a.request(ctx, store, cmd, rest)
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(a.stderr, "不明なコマンドです: %s\n\n%s", cmd, usage)
		return exitUsage
	}
}

// openStore は設定に応じたトークン保存先を開く。
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (session.TokenStore, func() error, error) {
	switch cfg.TokenStore {
	case config.StoreSQLite:
		store, err := session.OpenSQLiteStore(ctx, cfg.TokenDBPath, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return session.NewRedisStore(rdb, session.WithRedisLogger(log)), rdb.Close, nil
	default:
		return session.NewMemoryStore(), func() error { return nil }, nil
	}
}

// newGateway はstoreのトークンを使うゲートウェイを生成する。
func (a *App) newGateway(store session.TokenStore, showSpinner bool) *httpclient.Client {
	var affordance loading.Affordance = loading.Nop{}
	if showSpinner {
		affordance = loading.NewSpinner(a.stderr, "通信中...")
	}

	toaster := notify.NewToaster(
		notify.WithTimeout(a.cfg.ToastTimeout),
		notify.WithRenderer(notify.WriterRenderer(a.stderr)),
	)

	controller := session.NewController(store,
		session.WithRefresher(session.NewEndpointRefresher(a.cfg.TokenRefreshURL)),
		session.WithMinValidity(a.cfg.TokenMinValidity),
		session.WithControllerLogger(a.log),
		session.WithLogout(func(target string) {
			fmt.Fprintf(a.stderr, "セッションの有効期限が切れました。再ログインしてください: %s\n", target)
		}),
	)

	return httpclient.New(a.cfg.APIBaseURL,
		httpclient.WithTokenStore(store),
		httpclient.WithSession(controller),
		httpclient.WithNotifier(toaster),
		httpclient.WithIndicator(loading.New(affordance, loading.WithLogger(a.log))),
		httpclient.WithScroller(httpclient.ScrollerFunc(func() {
			fmt.Fprint(a.stderr, "\033[H\033[2J")
		})),
		httpclient.WithLogger(a.log),
		httpclient.WithRateLimit(a.cfg.RateRPS, a.cfg.RateBurst),
		httpclient.WithAuthRedirect(a.cfg.AuthRedirectURL),
	)
}

// login は開発用トークンを取得してstoreに保存する。
// トークン発行はゲートウェイの共通処理を通さずTransportで直接行う。
func (a *App) login(ctx context.Context, store session.TokenStore, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	subject := fs.String("subject", "", "トークンの主体（省略時は開発用ユーザー）")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	body, err := json.Marshal(map[string]string{"subject": *subject})
	if err != nil {
		fmt.Fprintf(a.stderr, "エラー: %v\n", err)
		return exitFailure
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenLoginURL, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(a.stderr, "エラー: %v\n", err)
		return exitFailure
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.newGateway(store, false).Transport().Do(req)
	if err != nil {
		fmt.Fprintf(a.stderr, "エラー: トークンの取得に失敗: %v\n", err)
		return exitFailure
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(a.stderr, "エラー: トークンの取得に失敗: status=%d\n", resp.StatusCode)
		return exitFailure
	}

	var tokens session.Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil || tokens.AccessToken == "" {
		fmt.Fprintln(a.stderr, "エラー: トークン応答が不正です")
		return exitFailure
	}
	if err := store.Write(session.AccessTokenKey, tokens.AccessToken); err != nil {
		fmt.Fprintf(a.stderr, "エラー: %v\n", err)
		return exitFailure
	}
	if tokens.RefreshToken != "" {
		if err := store.Write(session.RefreshTokenKey, tokens.RefreshToken); err != nil {
			fmt.Fprintf(a.stderr, "エラー: %v\n", err)
			return exitFailure
		}
	}
	fmt.Fprintln(a.stderr, "ログインしました")
	return exitOK
}

// requestFlags はリクエスト系サブコマンドのフラグ。
type requestFlags struct {
	query       *pairFlag
	headers     *pairFlag
	data        string
	file        string
	contentType string
	output      string
	noLoader    bool
	noSuccess   bool
	noError     bool
	scroll      bool
}

func (a *App) parseRequestFlags(cmd string, args []string) (*requestFlags, []string, error) {
	f := &requestFlags{query: newPairFlag("="), headers: newPairFlag(":")}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Var(f.query, "q", "クエリパラメータ key=value（複数指定可）")
	fs.Var(f.headers, "H", "リクエストヘッダー key:value（複数指定可）")
	fs.StringVar(&f.data, "d", "", "JSONのリクエストボディ")
	fs.StringVar(&f.file, "f", "", "送信するファイル（post-blob）")
	fs.StringVar(&f.contentType, "type", "application/octet-stream", "送信するファイルのContent-Type（post-blob）")
	fs.StringVar(&f.output, "o", "", "応答の保存先（get-blob、省略時は標準出力）")
	fs.BoolVar(&f.noLoader, "no-loader", false, "ローディング表示を行わない")
	fs.BoolVar(&f.noSuccess, "no-success", false, "成功メッセージを通知しない")
	fs.BoolVar(&f.noError, "no-error", false, "エラーメッセージを通知しない")
	fs.BoolVar(&f.scroll, "scroll", false, "成功時に画面を消去する")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// options はフラグをゲートウェイのOptionに変換する。
func (f *requestFlags) options() []httpclient.Option {
	opts := []httpclient.Option{
		httpclient.WithQuery(f.query.Map()),
		httpclient.WithHeaders(f.headers.Map()),
		httpclient.WithLoader(!f.noLoader),
		httpclient.WithErrorAlert(!f.noError),
	}
	if f.noSuccess {
		opts = append(opts, httpclient.WithSuccessAlert(false))
	}
	if f.scroll {
		opts = append(opts, httpclient.WithScrollToTop())
	}
	return opts
}

// request はcmdに対応するHTTPメソッドでendpointを呼び出す。
func (a *App) request(ctx context.Context, store session.TokenStore, cmd string, args []string) int {
	f, rest, err := a.parseRequestFlags(cmd, args)
	if err != nil {
		return exitUsage
	}
	if len(rest) != 1 {
		fmt.Fprintf(a.stderr, "エンドポイントを1つ指定してください\n\n%s", usage)
		return exitUsage
	}
	endpoint := rest[0]
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	var body any
	if f.data != "" {
		if !json.Valid([]byte(f.data)) {
			fmt.Fprintln(a.stderr, "エラー: -d にはJSONを指定してください")
			return exitUsage
		}
		body = []byte(f.data)
	}

	gw := a.newGateway(store, !f.noLoader)
	opts := f.options()

	switch cmd {
	case "get-blob":
		blob, err := gw.GetBlob(ctx, endpoint, opts...)
		if err != nil {
			return a.fail(err, f)
		}
		return a.writeBlob(blob, f.output)
	case "post-blob":
		if f.file == "" {
			fmt.Fprintln(a.stderr, "エラー: -f で送信するファイルを指定してください")
			return exitUsage
		}
		data, err := os.ReadFile(f.file)
		if err != nil {
			fmt.Fprintf(a.stderr, "エラー: ファイルの読み込みに失敗: %v\n", err)
			return exitFailure
		}
		headers := f.headers.Map()
		if headers == nil {
			headers = make(map[string]string)
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = f.contentType
		}
		opts = append(opts, httpclient.WithHeaders(headers))
		blob, err := gw.PostBlob(ctx, endpoint, data, opts...)
		if err != nil {
			return a.fail(err, f)
		}
		return a.writeBlob(blob, f.output)
	}

	var resp *httpclient.Response
	switch cmd {
	case "get":
		resp, err = gw.Get(ctx, endpoint, opts...)
	case "post":
		resp, err = gw.Post(ctx, endpoint, body, opts...)
	case "put":
		resp, err = gw.Put(ctx, endpoint, body, opts...)
	case "patch":
		resp, err = gw.Patch(ctx, endpoint, body, opts...)
	case "delete":
		resp, err = gw.Delete(ctx, endpoint, body, opts...)
	}
	if err != nil {
		return a.fail(err, f)
	}
	return a.writeJSON(resp.Payload)
}

// fail はリクエストの失敗を表示する。通知済みのエラーは重ねて表示しない。
func (a *App) fail(err error, f *requestFlags) int {
	reqErr, ok := httpclient.AsRequestError(err)
	if !ok {
		fmt.Fprintf(a.stderr, "エラー: %v\n", err)
		return exitFailure
	}

	switch reqErr.Kind {
	case httpclient.KindSessionExpired:
		// ログアウト時に表示済み
	case httpclient.KindAPI:
		if f.noError || reqErr.Message == "" {
			fmt.Fprintf(a.stderr, "エラー: %v\n", reqErr)
		}
	case httpclient.KindNetwork:
		fmt.Fprintf(a.stderr, "エラー: %s に接続できません\n", a.cfg.APIBaseURL)
	case httpclient.KindCanceled:
		fmt.Fprintln(a.stderr, "中断しました")
	default:
		fmt.Fprintf(a.stderr, "エラー: %v\n", reqErr)
	}
	return exitFailure
}

// writeJSON はpayloadを整形して標準出力に書き出す。
func (a *App) writeJSON(payload json.RawMessage) int {
	if len(payload) == 0 {
		return exitOK
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		buf.Reset()
		buf.Write(payload)
	}
	buf.WriteByte('\n')
	if _, err := a.stdout.Write(buf.Bytes()); err != nil {
		return exitFailure
	}
	return exitOK
}

// writeBlob はblobをpathまたは標準出力に書き出す。
func (a *App) writeBlob(blob *httpclient.Blob, path string) int {
	if path == "" {
		if _, err := a.stdout.Write(blob.Data); err != nil {
			return exitFailure
		}
		return exitOK
	}
	if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
		fmt.Fprintf(a.stderr, "エラー: ファイルの書き込みに失敗: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(a.stderr, "%s に %d バイト保存しました (%s)\n", path, len(blob.Data), blob.ContentType)
	return exitOK
}
