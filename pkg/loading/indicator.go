package loading

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Affordance はローディング表示そのもの（プログレスバー等）を表す。
type Affordance interface {
	// Show はローディング表示を出す。
	Show()
	// Hide はローディング表示を消す。
	Hide()
}

// Nop は何も表示しないAffordance。画面を持たない環境で使用する。
type Nop struct{}

// Show は何もしない。
func (Nop) Show() {}

// Hide は何もしない。
func (Nop) Hide() {}

// Indicator は実行中リクエスト数を数えるローディングカウンタ。
// カウンタが0より大きい間だけAffordanceを表示する。
type Indicator struct {
	// mu はcountとAffordance呼び出しを保護する。
	mu sync.Mutex
	// count は表示要求中のリクエスト数。
	count int
	// affordance は表示先。
	affordance Affordance
	// log はロガー。
	log *logrus.Entry
}

// Option はIndicatorの設定を変更する関数。
type Option func(*Indicator)

// WithLogger はカウンタの異常（対応しない減算）を記録するロガーを設定する。
func WithLogger(log *logrus.Entry) Option {
	return func(i *Indicator) { i.log = log }
}

// New は新しいIndicatorを生成する。aがnilの場合はNopを使用する。
func New(a Affordance, opts ...Option) *Indicator {
	if a == nil {
		a = Nop{}
	}
	i := &Indicator{
		affordance: a,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Increment はカウンタを1増やす。0から1になったときに表示する。
func (i *Indicator) Increment() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.count++
	if i.count == 1 {
		i.affordance.Show()
	}
}

// Decrement はカウンタを1減らす。0になったときに表示を消す。
// 対応するIncrementが無い場合、カウンタは0に留まる。
func (i *Indicator) Decrement() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.count <= 0 {
		i.log.Debug("対応するIncrementが無いDecrementを無視しました")
		return
	}
	i.count--
	if i.count == 0 {
		i.affordance.Hide()
	}
}

// Count は現在のカウンタ値を返す。
func (i *Indicator) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count
}

// Visible はローディング表示中かどうかを返す。
func (i *Indicator) Visible() bool {
	return i.Count() > 0
}
