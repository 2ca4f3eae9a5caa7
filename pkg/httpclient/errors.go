package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/nao1215/apigate/pkg/session"
)

// Kind はリクエスト失敗の分類。
type Kind int

const (
	// KindUnknown は分類できない失敗。元のエラーをそのまま保持する。
	KindUnknown Kind = iota
	// KindSessionExpired は401応答によりセッションが終了したことを表す。
	KindSessionExpired
	// KindNetwork は接続先に到達できなかったことを表す。
	KindNetwork
	// KindAPI はサーバーがJSON形式のエラーを返したことを表す。
	KindAPI
	// KindCanceled は呼び出し元がリクエストを取り消したことを表す。
	KindCanceled
)

// String はKindの名前を返す。
func (k Kind) String() string {
	switch k {
	case KindSessionExpired:
		return "SessionExpired"
	case KindNetwork:
		return "NetworkUnreachable"
	case KindAPI:
		return "StructuredApiError"
	case KindCanceled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// errors.Isで分類を判定するための番兵エラー。
var (
	ErrSessionExpired     = errors.New("セッションの有効期限が切れました")
	ErrNetworkUnreachable = errors.New("ネットワークに接続できません")
	ErrAPI                = errors.New("APIがエラーを返しました")
	ErrCanceled           = errors.New("リクエストがキャンセルされました")
	ErrUnknown            = errors.New("不明なエラーが発生しました")
)

// RequestError はゲートウェイが返す正規化済みのエラー。
type RequestError struct {
	// Kind は失敗の分類。
	Kind Kind
	// Status はHTTPステータスコード。応答が無い場合は0。
	Status int
	// Message はユーザー向けのメッセージ。
	Message string
	// Body はサーバーが返したエラーボディ。
	Body json.RawMessage
	// Show はこのエラーをユーザーに表示すべきかどうか。
	// セッション切れ・通信断・キャンセルではfalseになる。
	Show bool
	// Err は元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *RequestError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status=%d, message=%s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status=%d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap は元のエラーを返す。
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is は分類に対応する番兵エラーと一致するかを返す。
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrSessionExpired:
		return e.Kind == KindSessionExpired
	case ErrNetworkUnreachable:
		return e.Kind == KindNetwork
	case ErrAPI:
		return e.Kind == KindAPI
	case ErrCanceled:
		return e.Kind == KindCanceled
	case ErrUnknown:
		return e.Kind == KindUnknown
	}
	return false
}

// AsRequestError はerrがRequestErrorであれば取り出す。
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// fromStatus は2xx以外の応答をRequestErrorに変換する。
// 401はボディに関わらずセッション切れとして扱う。
func fromStatus(status int, body []byte) *RequestError {
	if status == http.StatusUnauthorized {
		return &RequestError{
			Kind:   KindSessionExpired,
			Status: status,
			Body:   jsonOrNil(body),
			Err:    ErrSessionExpired,
		}
	}

	// message を持たないサービスは error フィールドにメッセージを入れる
	var obj map[string]any
	if json.Unmarshal(body, &obj) == nil && obj != nil {
		msg, _ := obj["message"].(string)
		if msg == "" {
			msg, _ = obj["error"].(string)
		}
		code := status
		if n, ok := obj["status"].(float64); ok && n > 0 {
			code = int(n)
		}
		return &RequestError{
			Kind:    KindAPI,
			Status:  code,
			Message: msg,
			Body:    json.RawMessage(body),
			Show:    true,
		}
	}

	return &RequestError{
		Kind:    KindUnknown,
		Status:  status,
		Message: http.StatusText(status),
		Show:    true,
		Err:     fmt.Errorf("HTTPエラー: status=%d, body=%s", status, string(body)),
	}
}

// fromTransport は応答を受け取る前の失敗をRequestErrorに変換する。
// タイムアウトは通信層の失敗としてそのまま返す。
func fromTransport(ctx context.Context, err error) *RequestError {
	if reqErr, ok := AsRequestError(err); ok {
		return reqErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &RequestError{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{Kind: KindUnknown, Message: err.Error(), Show: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestError{Kind: KindUnknown, Message: err.Error(), Show: true, Err: err}
	}
	if isNetworkUnreachable(err) {
		return &RequestError{Kind: KindNetwork, Err: err}
	}
	return &RequestError{Kind: KindUnknown, Message: err.Error(), Show: true, Err: err}
}

// fromRefresh はトークン更新の失敗をRequestErrorに変換する。
// トークンが失効しているか更新を拒否された場合のみセッション切れとし、
// 通信の失敗はセッションを維持したまま通常の分類に従う。
func fromRefresh(ctx context.Context, err error) *RequestError {
	var statusErr *session.StatusError
	if errors.Is(err, session.ErrTokenExpired) || errors.Is(err, session.ErrNoToken) ||
		(errors.As(err, &statusErr) && statusErr.Rejected()) {
		return &RequestError{Kind: KindSessionExpired, Err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
	}
	return fromTransport(ctx, err)
}

// isNetworkUnreachable は接続先に到達できなかったことを示すエラーかを返す。
func isNetworkUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	return false
}

func jsonOrNil(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}
