// Package notify はユーザーに一時的な成功・エラーメッセージを表示する通知チャネルを提供する。
//
// 新しい通知を表示する前に、表示中の通知は必ず閉じられる。
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Severity は通知の種類を表す。
type Severity string

const (
	// SeverityInfo は情報通知を表す。
	SeverityInfo Severity = "info"
	// SeveritySuccess は成功通知を表す。
	SeveritySuccess Severity = "success"
	// SeverityWarning は警告通知を表す。
	SeverityWarning Severity = "warning"
	// SeverityError はエラー通知を表す。
	SeverityError Severity = "error"
)

// StandardTimeout は通知の標準表示時間。
const StandardTimeout = 5 * time.Second

// Channel は通知の表示先。
type Channel interface {
	// Notify は表示中の通知を閉じてから新しい通知を表示する。
	Notify(severity Severity, message string)
}

// Toast は表示された1件の通知。
type Toast struct {
	// ID は通知の一意識別子。
	ID string
	// Severity は通知の種類。
	Severity Severity
	// Message は通知メッセージ。
	Message string
	// ShownAt は表示した日時。
	ShownAt time.Time
}

// Renderer はToastを実際に描画する関数。
type Renderer func(t Toast)

// WriterRenderer はToastをwに1行で書き出すRendererを返す。
func WriterRenderer(w io.Writer) Renderer {
	return func(t Toast) {
		fmt.Fprintf(w, "[%s] %s\n", t.Severity, t.Message)
	}
}

// Toaster は同時に1件だけ通知を表示するChannel。
// 通知はtimeout経過後に自動で閉じられる。
type Toaster struct {
	mu      sync.Mutex
	current *Toast
	history []Toast
	timer   *time.Timer
	timeout time.Duration
	render  Renderer
	dismiss func(Toast)
}

// ToasterOption はToasterの設定を変更する関数。
type ToasterOption func(*Toaster)

// WithTimeout は通知の表示時間を設定する。0以下の場合は自動で閉じない。
func WithTimeout(d time.Duration) ToasterOption {
	return func(t *Toaster) { t.timeout = d }
}

// WithRenderer は通知の描画関数を設定する。
func WithRenderer(r Renderer) ToasterOption {
	return func(t *Toaster) { t.render = r }
}

// WithDismissHook は通知を閉じたときに呼ばれる関数を設定する。
func WithDismissHook(fn func(Toast)) ToasterOption {
	return func(t *Toaster) { t.dismiss = fn }
}

// NewToaster は新しいToasterを生成する。既定では標準出力に描画する。
func NewToaster(opts ...ToasterOption) *Toaster {
	t := &Toaster{
		timeout: StandardTimeout,
		render:  WriterRenderer(os.Stdout),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notify は表示中の通知を閉じてから新しい通知を表示する。
func (t *Toaster) Notify(severity Severity, message string) {
	t.mu.Lock()
	closed, ok := t.dismissLocked()
	t.showLocked(severity, message)
	t.mu.Unlock()

	if ok {
		t.afterDismiss(closed)
	}
}

func (t *Toaster) showLocked(severity Severity, message string) {
	toast := Toast{
		ID:       uuid.New().String(),
		Severity: severity,
		Message:  message,
		ShownAt:  time.Now(),
	}
	t.current = &toast
	t.history = append(t.history, toast)
	if t.render != nil {
		t.render(toast)
	}

	if t.timeout > 0 {
		id := toast.ID
		t.timer = time.AfterFunc(t.timeout, func() { t.expire(id) })
	}
}

// Dismiss は表示中の通知を閉じる。
func (t *Toaster) Dismiss() {
	t.mu.Lock()
	closed, ok := t.dismissLocked()
	t.mu.Unlock()

	if ok {
		t.afterDismiss(closed)
	}
}

// Current は表示中の通知を返す。表示中の通知が無い場合はfalseを返す。
func (t *Toaster) Current() (Toast, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Toast{}, false
	}
	return *t.current, true
}

// History はこれまでに表示した通知を古い順に返す。
func (t *Toaster) History() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Toast, len(t.history))
	copy(out, t.history)
	return out
}

// expire はタイマー満了時に、対象の通知がまだ表示中であれば閉じる。
func (t *Toaster) expire(id string) {
	t.mu.Lock()
	var closed Toast
	var ok bool
	if t.current != nil && t.current.ID == id {
		closed, ok = t.dismissLocked()
	}
	t.mu.Unlock()

	if ok {
		t.afterDismiss(closed)
	}
}

// dismissLocked は表示中の通知を閉じ、閉じた通知を返す。t.muを保持して呼び出す。
func (t *Toaster) dismissLocked() (Toast, bool) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.current == nil {
		return Toast{}, false
	}
	closed := *t.current
	t.current = nil
	return closed, true
}

// afterDismiss はt.muを解放した状態でdismissフックを呼び出す。
func (t *Toaster) afterDismiss(closed Toast) {
	if t.dismiss != nil {
		t.dismiss(closed)
	}
}

// LogChannel は通知をlogrusに出力するChannel。
type LogChannel struct {
	log *logrus.Entry
}

// NewLogChannel は新しいLogChannelを生成する。
func NewLogChannel(log *logrus.Entry) *LogChannel {
	return &LogChannel{log: log}
}

// Notify はエラー通知をErrorレベル、それ以外をInfoレベルで記録する。
func (c *LogChannel) Notify(severity Severity, message string) {
	entry := c.log.WithField("severity", string(severity))
	switch severity {
	case SeverityError:
		entry.Error(message)
	case SeverityWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Recorder は受け取った通知をメモリに記録するChannel。
type Recorder struct {
	mu      sync.Mutex
	entries []Toast
}

// Notify は通知を記録する。
func (r *Recorder) Notify(severity Severity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Toast{
		Severity: severity,
		Message:  message,
		ShownAt:  time.Now(),
	})
}

// Entries は記録した通知を古い順に返す。
func (r *Recorder) Entries() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Toast, len(r.entries))
	copy(out, r.entries)
	return out
}

// Multi は複数のChannelに同じ通知を送るChannelを返す。
func Multi(channels ...Channel) Channel {
	return multiChannel(channels)
}

type multiChannel []Channel

func (m multiChannel) Notify(severity Severity, message string) {
	for _, c := range m {
		c.Notify(severity, message)
	}
}
