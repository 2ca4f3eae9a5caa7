package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/apigate/pkg/loading"
	"github.com/nao1215/apigate/pkg/notify"
	"github.com/nao1215/apigate/pkg/session"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Query はクエリ文字列。
	Query string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// fakeSession はSessionControllerのテスト用実装。
type fakeSession struct {
	mu         sync.Mutex
	refreshErr error
	refreshed  int
	ended      []string
}

func (f *fakeSession) RefreshIfNeeded(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	return f.refreshErr
}

func (f *fakeSession) EndSession(redirectTarget string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, redirectTarget)
}

func (f *fakeSession) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshed, append([]string(nil), f.ended...)
}

// testEnv はテスト対象のClientと、注入した協調オブジェクトをまとめたもの。
type testEnv struct {
	client    *Client
	recorder  *notify.Recorder
	indicator *loading.Indicator
	tokens    *session.MemoryStore
	session   *fakeSession
}

// newTestEnv はbaseURLに接続するClientを、記録用の協調オブジェクト付きで生成する。
func newTestEnv(baseURL string, opts ...ClientOption) *testEnv {
	env := &testEnv{
		recorder:  &notify.Recorder{},
		indicator: loading.New(nil),
		tokens:    session.NewMemoryStore(),
		session:   &fakeSession{},
	}
	base := []ClientOption{
		WithNotifier(env.recorder),
		WithIndicator(env.indicator),
		WithTokenStore(env.tokens),
		WithSession(env.session),
		WithAuthRedirect("http://localhost:3000/auth"),
	}
	env.client = New(baseURL, append(base, opts...)...)
	return env
}

// jsonHandler はstatusとbodyをJSONで返すハンドラを生成する。
func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080/")
		if client.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8080")
		}
		if client.Transport() == nil {
			t.Fatal("Transport()がnil")
		}
		if client.Indicator() == nil {
			t.Fatal("Indicator()がnil")
		}
	})

	t.Run("タイムアウトが30秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.Transport().Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.Transport().Timeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithTimeout(time.Second))
		if client.Transport().Timeout != time.Second {
			t.Errorf("Timeout = %v, want 1s", client.Transport().Timeout)
		}
	})

	t.Run("WithHTTPClientで指定したクライアントがTransportとして返ること", func(t *testing.T) {
		t.Parallel()

		hc := &http.Client{Timeout: 5 * time.Second}
		client := New("http://localhost:8080", WithHTTPClient(hc))
		if client.Transport() != hc {
			t.Error("Transport()が指定したクライアントと異なる")
		}
	})

	t.Run("WithTimeoutはオプションの順序に関わらず適用され呼び出し元のクライアントを変更しないこと", func(t *testing.T) {
		t.Parallel()

		orders := map[string][]func(*http.Client) ClientOption{
			"WithHTTPClientが先": {
				func(hc *http.Client) ClientOption { return WithHTTPClient(hc) },
				func(*http.Client) ClientOption { return WithTimeout(time.Second) },
			},
			"WithTimeoutが先": {
				func(*http.Client) ClientOption { return WithTimeout(time.Second) },
				func(hc *http.Client) ClientOption { return WithHTTPClient(hc) },
			},
		}
		for name, order := range orders {
			hc := &http.Client{Timeout: 5 * time.Second}
			opts := make([]ClientOption, 0, len(order))
			for _, o := range order {
				opts = append(opts, o(hc))
			}

			client := New("http://localhost:8080", opts...)
			if got := client.Transport().Timeout; got != time.Second {
				t.Errorf("%s: Timeout = %v, want 1s", name, got)
			}
			if hc.Timeout != 5*time.Second {
				t.Errorf("%s: 呼び出し元のTimeoutが %v に変更された", name, hc.Timeout)
			}
		}
	})

	t.Run("WithHTTPClientにnilを渡しても既定のクライアントが使われること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithHTTPClient(nil))
		if client.Transport() == nil {
			t.Fatal("Transport()がnil")
		}
		if client.Transport().Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.Transport().Timeout)
		}
	})
}

// TestGet はGETリクエストの基本動作を検証する。
func TestGet(t *testing.T) {
	t.Parallel()

	t.Run("クエリ・ヘッダーを付与して送信しPayloadを返すこと", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Path = r.URL.Path
			received.Query = r.URL.RawQuery
			received.Body, _ = io.ReadAll(r.Body)
			received.Headers = r.Header
			jsonHandler(http.StatusOK, `{"message":"fetched","items":[1,2]}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		resp, err := env.client.Get(t.Context(), "/items",
			WithQuery(map[string]string{"page": "2"}),
			WithHeaders(map[string]string{"X-Custom": "yes"}),
		)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}

		if received.Method != http.MethodGet {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodGet)
		}
		if received.Path != "/items" {
			t.Errorf("Path = %q, want %q", received.Path, "/items")
		}
		if received.Query != "page=2" {
			t.Errorf("Query = %q, want %q", received.Query, "page=2")
		}
		if len(received.Body) != 0 {
			t.Errorf("GETリクエストにボディが含まれている: %q", string(received.Body))
		}
		if got := received.Headers.Get("X-Custom"); got != "yes" {
			t.Errorf("X-Custom = %q, want %q", got, "yes")
		}
		if got := received.Headers.Get("Content-Type"); got != defaultContentType {
			t.Errorf("Content-Type = %q, want %q", got, defaultContentType)
		}
		if got := received.Headers.Get(headerKeyRequestID); got == "" {
			t.Error("X-Request-IDが付与されていない")
		}

		var payload struct {
			Items []int `json:"items"`
		}
		if err := resp.Decode(&payload); err != nil {
			t.Fatalf("Decode()でエラーが発生: %v", err)
		}
		if len(payload.Items) != 2 {
			t.Errorf("Items = %v, want [1 2]", payload.Items)
		}
		if resp.Message != "fetched" {
			t.Errorf("Message = %q, want %q", resp.Message, "fetched")
		}
	})

	t.Run("GETは既定で成功通知を行わないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusOK, `{"message":"fetched"}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		if _, err := env.client.Get(t.Context(), "/items"); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
	})

	t.Run("コンテキストのリクエストIDが伝播されること", func(t *testing.T) {
		t.Parallel()

		var got string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get(headerKeyRequestID)
			jsonHandler(http.StatusOK, `{}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		ctx := WithRequestID(t.Context(), "req-123")
		if _, err := env.client.Get(ctx, "/"); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got != "req-123" {
			t.Errorf("X-Request-ID = %q, want %q", got, "req-123")
		}
	})
}

// TestMutatingVerbs は更新系メソッドの送信内容と成功通知を検証する。
func TestMutatingVerbs(t *testing.T) {
	t.Parallel()

	t.Run("POSTの成功メッセージが通知されPayloadにmessageが残ること", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Body, _ = io.ReadAll(r.Body)
			jsonHandler(http.StatusCreated, `{"message":"Created","data":{"id":1}}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		resp, err := env.client.Post(t.Context(), "/items", map[string]string{"name": "a"})
		if err != nil {
			t.Fatalf("Post()でエラーが発生: %v", err)
		}

		var sent map[string]string
		if err := json.Unmarshal(received.Body, &sent); err != nil {
			t.Fatalf("リクエストボディのパースに失敗: %v", err)
		}
		if sent["name"] != "a" {
			t.Errorf("sent name = %q, want %q", sent["name"], "a")
		}

		entries := env.recorder.Entries()
		if len(entries) != 1 {
			t.Fatalf("通知件数 = %d, want 1", len(entries))
		}
		if entries[0].Severity != notify.SeveritySuccess || entries[0].Message != "Created" {
			t.Errorf("通知 = %+v, want success/Created", entries[0])
		}

		var payload struct {
			Message string `json:"message"`
			Data    struct {
				ID int `json:"id"`
			} `json:"data"`
		}
		if err := resp.Decode(&payload); err != nil {
			t.Fatalf("Decode()でエラーが発生: %v", err)
		}
		if payload.Data.ID != 1 {
			t.Errorf("data.id = %d, want 1", payload.Data.ID)
		}
		if payload.Message != "Created" {
			t.Errorf("Payloadのmessage = %q, want %q", payload.Message, "Created")
		}
		if resp.Status != http.StatusCreated {
			t.Errorf("Status = %d, want %d", resp.Status, http.StatusCreated)
		}
	})

	t.Run("PUT・DELETE・PATCHが正しいメソッドで送信されること", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var methods []string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			methods = append(methods, r.Method)
			mu.Unlock()
			jsonHandler(http.StatusOK, `{"message":"ok"}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		ctx := t.Context()
		if _, err := env.client.Put(ctx, "/items/1", map[string]int{"v": 1}); err != nil {
			t.Fatalf("Put()でエラーが発生: %v", err)
		}
		if _, err := env.client.Delete(ctx, "/items/1", nil); err != nil {
			t.Fatalf("Delete()でエラーが発生: %v", err)
		}
		if _, err := env.client.Patch(ctx, "/items/1", map[string]int{"v": 2}); err != nil {
			t.Fatalf("Patch()でエラーが発生: %v", err)
		}

		want := []string{http.MethodPut, http.MethodDelete, http.MethodPatch}
		if len(methods) != len(want) {
			t.Fatalf("methods = %v, want %v", methods, want)
		}
		for i := range want {
			if methods[i] != want[i] {
				t.Errorf("methods[%d] = %q, want %q", i, methods[i], want[i])
			}
		}
		if got := len(env.recorder.Entries()); got != 3 {
			t.Errorf("通知件数 = %d, want 3", got)
		}
	})

	t.Run("WithSuccessAlert(false)で成功通知が抑止されること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusOK, `{"message":"Created"}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		if _, err := env.client.Post(t.Context(), "/items", nil, WithSuccessAlert(false)); err != nil {
			t.Fatalf("Post()でエラーが発生: %v", err)
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
	})

	t.Run("messageが文字列でない場合は通知しないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusOK, `{"message":{"text":"x"}}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		if _, err := env.client.Post(t.Context(), "/items", nil); err != nil {
			t.Fatalf("Post()でエラーが発生: %v", err)
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
	})

	t.Run("WithScrollToTopで成功時にスクロールされること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
		defer ts.Close()

		scrolled := 0
		env := newTestEnv(ts.URL, WithScroller(ScrollerFunc(func() { scrolled++ })))
		if _, err := env.client.Post(t.Context(), "/items", nil, WithScrollToTop()); err != nil {
			t.Fatalf("Post()でエラーが発生: %v", err)
		}
		if _, err := env.client.Post(t.Context(), "/items", nil); err != nil {
			t.Fatalf("Post()でエラーが発生: %v", err)
		}
		if scrolled != 1 {
			t.Errorf("スクロール回数 = %d, want 1", scrolled)
		}
	})

	t.Run("シリアライズできないボディでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		_, err := env.client.Post(t.Context(), "/items", make(chan int))
		if !errors.Is(err, ErrUnknown) {
			t.Fatalf("err = %v, want ErrUnknown", err)
		}
		if got := env.indicator.Count(); got != 0 {
			t.Errorf("Count() = %d, want 0", got)
		}
	})
}

// TestAuthorization は認証ヘッダーの付与とトークン更新を検証する。
func TestAuthorization(t *testing.T) {
	t.Parallel()

	t.Run("トークンがあればBearerヘッダーを付与し更新を確認すること", func(t *testing.T) {
		t.Parallel()

		var auth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			jsonHandler(http.StatusOK, `{}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		_ = env.tokens.Write(session.AccessTokenKey, "token-abc")

		if _, err := env.client.Get(t.Context(), "/me"); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if auth != "Bearer token-abc" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer token-abc")
		}
		if refreshed, _ := env.session.snapshot(); refreshed != 1 {
			t.Errorf("RefreshIfNeeded呼び出し回数 = %d, want 1", refreshed)
		}
	})

	t.Run("トークンが無ければ認証なしで送信すること", func(t *testing.T) {
		t.Parallel()

		hasAuth := true
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasAuth = r.Header["Authorization"]
			jsonHandler(http.StatusOK, `{}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		if _, err := env.client.Get(t.Context(), "/public"); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if hasAuth {
			t.Error("トークンが無いのにAuthorizationヘッダーが付与された")
		}
		if refreshed, _ := env.session.snapshot(); refreshed != 0 {
			t.Errorf("RefreshIfNeeded呼び出し回数 = %d, want 0", refreshed)
		}
	})

	rejected := []struct {
		name string
		err  error
	}{
		{"期限切れ", session.ErrTokenExpired},
		{"リフレッシュトークン無し", fmt.Errorf("トークンの更新に失敗: %w", session.ErrNoToken)},
		{"更新エンドポイントが401", fmt.Errorf("トークンの更新に失敗: %w", &session.StatusError{Status: http.StatusUnauthorized})},
		{"更新エンドポイントが400", &session.StatusError{Status: http.StatusBadRequest}},
	}
	for _, tt := range rejected {
		t.Run("トークン更新が拒否された場合はセッション切れとして扱うこと_"+tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				jsonHandler(http.StatusOK, `{}`)(w, r)
			}))
			defer ts.Close()

			env := newTestEnv(ts.URL)
			env.session.refreshErr = tt.err
			_ = env.tokens.Write(session.AccessTokenKey, "stale")

			_, err := env.client.Get(t.Context(), "/me")
			if !errors.Is(err, ErrSessionExpired) {
				t.Fatalf("err = %v, want ErrSessionExpired", err)
			}
			if called {
				t.Error("更新失敗後にリクエストが送信された")
			}
			if env.tokens.Exists(session.AccessTokenKey) {
				t.Error("トークンが削除されていない")
			}
			if _, ended := env.session.snapshot(); len(ended) != 1 {
				t.Errorf("EndSession呼び出し回数 = %d, want 1", len(ended))
			}
		})
	}

	t.Run("更新エンドポイントに到達できない場合はセッションを維持すること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
		defer ts.Close()

		tokens := session.NewMemoryStore()
		access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Second)),
		}).SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}
		_ = tokens.Write(session.AccessTokenKey, access)
		_ = tokens.Write(session.RefreshTokenKey, "refresh")

		loggedOut := false
		controller := session.NewController(tokens,
			session.WithRefresher(session.NewEndpointRefresher("http://127.0.0.1:1/refresh")),
			session.WithLogout(func(string) { loggedOut = true }),
		)
		recorder := &notify.Recorder{}
		client := New(ts.URL,
			WithTokenStore(tokens),
			WithSession(controller),
			WithNotifier(recorder),
		)

		_, err = client.Get(t.Context(), "/me")
		reqErr, ok := AsRequestError(err)
		if !ok {
			t.Fatalf("err = %v, want *RequestError", err)
		}
		if reqErr.Kind != KindNetwork {
			t.Errorf("Kind = %v, want %v", reqErr.Kind, KindNetwork)
		}
		if reqErr.Show {
			t.Error("Show = true, want false")
		}
		if got, _ := tokens.Read(session.AccessTokenKey); got != access {
			t.Error("アクセストークンが削除された")
		}
		if !tokens.Exists(session.RefreshTokenKey) {
			t.Error("リフレッシュトークンが削除された")
		}
		if loggedOut {
			t.Error("ログアウト処理が呼び出された")
		}
		if n := len(recorder.Entries()); n != 0 {
			t.Errorf("通知件数 = %d, want 0", n)
		}
	})
}

// TestSessionExpired は401応答の扱いを検証する。
func TestSessionExpired(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(jsonHandler(http.StatusUnauthorized, `{"message":"token expired","status":401}`))
	defer ts.Close()

	env := newTestEnv(ts.URL)
	_ = env.tokens.Write(session.AccessTokenKey, "expired")
	_ = env.tokens.Write(session.RefreshTokenKey, "refresh")

	_, err := env.client.Post(t.Context(), "/items", nil, WithErrorAlert(true))

	reqErr, ok := AsRequestError(err)
	if !ok {
		t.Fatalf("err = %v, want *RequestError", err)
	}
	if reqErr.Kind != KindSessionExpired {
		t.Errorf("Kind = %v, want %v", reqErr.Kind, KindSessionExpired)
	}
	if reqErr.Show {
		t.Error("セッション切れのShowがtrueになっている")
	}
	if got := len(env.recorder.Entries()); got != 0 {
		t.Errorf("通知件数 = %d, want 0", got)
	}
	if env.tokens.Exists(session.AccessTokenKey) || env.tokens.Exists(session.RefreshTokenKey) {
		t.Error("セッション情報が削除されていない")
	}
	_, ended := env.session.snapshot()
	if len(ended) != 1 || ended[0] != "http://localhost:3000/auth" {
		t.Errorf("EndSession = %v, want [http://localhost:3000/auth]", ended)
	}
	if got := env.indicator.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

// TestErrorNormalization はエラー応答の正規化と通知を検証する。
func TestErrorNormalization(t *testing.T) {
	t.Parallel()

	t.Run("JSONエラーボディのmessageとstatusが保持され1回通知されること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusUnprocessableEntity, `{"message":"Invalid input","status":422}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		_, err := env.client.Post(t.Context(), "/items", map[string]string{})

		reqErr, ok := AsRequestError(err)
		if !ok {
			t.Fatalf("err = %v, want *RequestError", err)
		}
		if reqErr.Kind != KindAPI || !errors.Is(err, ErrAPI) {
			t.Errorf("Kind = %v, want %v", reqErr.Kind, KindAPI)
		}
		if reqErr.Message != "Invalid input" {
			t.Errorf("Message = %q, want %q", reqErr.Message, "Invalid input")
		}
		if reqErr.Status != 422 {
			t.Errorf("Status = %d, want 422", reqErr.Status)
		}

		entries := env.recorder.Entries()
		if len(entries) != 1 {
			t.Fatalf("通知件数 = %d, want 1", len(entries))
		}
		if entries[0].Severity != notify.SeverityError || entries[0].Message != "Invalid input" {
			t.Errorf("通知 = %+v, want error/Invalid input", entries[0])
		}
	})

	t.Run("WithErrorAlert(false)でエラー通知が抑止されること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusBadRequest, `{"message":"bad"}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		_, err := env.client.Get(t.Context(), "/items", WithErrorAlert(false))
		if !errors.Is(err, ErrAPI) {
			t.Fatalf("err = %v, want ErrAPI", err)
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
	})

	t.Run("errorフィールドのみのボディでもメッセージを取り出せること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(jsonHandler(http.StatusNotFound, `{"error":"not found"}`))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		_, err := env.client.Get(t.Context(), "/items/x")
		reqErr, ok := AsRequestError(err)
		if !ok {
			t.Fatalf("err = %v, want *RequestError", err)
		}
		if reqErr.Message != "not found" || reqErr.Status != http.StatusNotFound {
			t.Errorf("RequestError = %+v", reqErr)
		}
	})

	t.Run("JSONでないエラー応答はUnknownとして通知されないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "internal error")
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		_, err := env.client.Get(t.Context(), "/items")
		reqErr, ok := AsRequestError(err)
		if !ok {
			t.Fatalf("err = %v, want *RequestError", err)
		}
		if reqErr.Kind != KindUnknown {
			t.Errorf("Kind = %v, want %v", reqErr.Kind, KindUnknown)
		}
		if reqErr.Status != http.StatusInternalServerError {
			t.Errorf("Status = %d, want 500", reqErr.Status)
		}
		if reqErr.Err == nil {
			t.Error("元のエラーが保持されていない")
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
	})

	t.Run("接続できないサーバーはNetworkとして通知されないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv("http://127.0.0.1:1")
		_, err := env.client.Get(t.Context(), "/items")
		reqErr, ok := AsRequestError(err)
		if !ok {
			t.Fatalf("err = %v, want *RequestError", err)
		}
		if reqErr.Kind != KindNetwork || !errors.Is(err, ErrNetworkUnreachable) {
			t.Errorf("Kind = %v, want %v", reqErr.Kind, KindNetwork)
		}
		if reqErr.Show {
			t.Error("通信断のShowがtrueになっている")
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
		if got := env.indicator.Count(); got != 0 {
			t.Errorf("Count() = %d, want 0", got)
		}
	})

	t.Run("キャンセル済みのコンテキストはCanceledとして通知されないこと", func(t *testing.T) {
		t.Parallel()

		called := false
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			jsonHandler(http.StatusOK, `{}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := env.client.Post(ctx, "/items", nil)
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("err = %v, want ErrCanceled", err)
		}
		if called {
			t.Error("キャンセル済みなのにリクエストが送信された")
		}
		if got := len(env.recorder.Entries()); got != 0 {
			t.Errorf("通知件数 = %d, want 0", got)
		}
	})
}

// TestLoadingIndicator はローディング表示の参照カウントを検証する。
func TestLoadingIndicator(t *testing.T) {
	t.Parallel()

	t.Run("リクエスト中は表示され完了後に消えること", func(t *testing.T) {
		t.Parallel()

		ind := loading.New(nil)
		visibleDuringCall := false
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visibleDuringCall = ind.Visible()
			jsonHandler(http.StatusOK, `{}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL, WithIndicator(ind))
		if _, err := env.client.Get(t.Context(), "/items"); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if !visibleDuringCall {
			t.Error("リクエスト中にローディング表示されていない")
		}
		if ind.Visible() {
			t.Error("完了後もローディング表示が残っている")
		}
	})

	t.Run("WithLoader(false)ではカウンタが変化しないこと", func(t *testing.T) {
		t.Parallel()

		ind := loading.New(nil)
		visibleDuringCall := true
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visibleDuringCall = ind.Visible()
			jsonHandler(http.StatusBadRequest, `{"message":"x"}`)(w, r)
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL, WithIndicator(ind))
		_, _ = env.client.Get(t.Context(), "/items", WithLoader(false))
		if visibleDuringCall {
			t.Error("WithLoader(false)なのにローディング表示された")
		}
		if got := ind.Count(); got != 0 {
			t.Errorf("Count() = %d, want 0", got)
		}
	})

	t.Run("並行リクエストの一方が失敗しても他方の完了まで表示が続くこと", func(t *testing.T) {
		t.Parallel()

		slowArrived := make(chan struct{})
		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/slow":
				close(slowArrived)
				<-release
				jsonHandler(http.StatusOK, `{"message":"slow done"}`)(w, r)
			default:
				jsonHandler(http.StatusUnprocessableEntity, `{"message":"fast failed","status":422}`)(w, r)
			}
		}))
		defer ts.Close()

		env := newTestEnv(ts.URL)

		var wg sync.WaitGroup
		var slowErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, slowErr = env.client.Get(t.Context(), "/slow", WithSuccessAlert(true))
		}()
		<-slowArrived

		if _, err := env.client.Get(t.Context(), "/fast"); !errors.Is(err, ErrAPI) {
			t.Fatalf("fastのerr = %v, want ErrAPI", err)
		}
		if !env.indicator.Visible() {
			t.Error("slowが実行中なのにローディング表示が消えた")
		}
		if got := env.indicator.Count(); got != 1 {
			t.Errorf("Count() = %d, want 1", got)
		}

		close(release)
		wg.Wait()
		if slowErr != nil {
			t.Fatalf("slowでエラーが発生: %v", slowErr)
		}
		if env.indicator.Visible() {
			t.Error("全リクエスト完了後もローディング表示が残っている")
		}

		entries := env.recorder.Entries()
		if len(entries) != 2 {
			t.Fatalf("通知件数 = %d, want 2", len(entries))
		}
		if entries[0].Severity != notify.SeverityError || entries[0].Message != "fast failed" {
			t.Errorf("1件目の通知 = %+v", entries[0])
		}
		if entries[1].Severity != notify.SeveritySuccess || entries[1].Message != "slow done" {
			t.Errorf("2件目の通知 = %+v", entries[1])
		}
	})

	t.Run("複数のClientで1つのカウンタを共有できること", func(t *testing.T) {
		t.Parallel()

		ind := loading.New(nil)
		var counts []int
		var mu sync.Mutex
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			counts = append(counts, ind.Count())
			mu.Unlock()
			jsonHandler(http.StatusOK, `{}`)(w, r)
		}))
		defer ts.Close()

		a := New(ts.URL, WithIndicator(ind))
		b := New(ts.URL, WithIndicator(ind))
		if _, err := a.Get(t.Context(), "/"); err != nil {
			t.Fatalf("a.Get()でエラーが発生: %v", err)
		}
		if _, err := b.Get(t.Context(), "/"); err != nil {
			t.Fatalf("b.Get()でエラーが発生: %v", err)
		}
		if len(counts) != 2 || counts[0] != 1 || counts[1] != 1 {
			t.Errorf("リクエスト中のカウンタ = %v, want [1 1]", counts)
		}
		if a.Indicator() != b.Indicator() {
			t.Error("カウンタが共有されていない")
		}
	})
}

// TestRateLimit は送信レート制限を検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
	defer ts.Close()

	env := newTestEnv(ts.URL, WithRateLimit(0.001, 1))
	if _, err := env.client.Get(t.Context(), "/"); err != nil {
		t.Fatalf("1回目のGet()でエラーが発生: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := env.client.Get(ctx, "/")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if got := env.indicator.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}
