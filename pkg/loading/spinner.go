package loading

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// spinnerFrames はスピナーの描画パターン。
var spinnerFrames = []string{"|", "/", "-", "\\"}

// Spinner は端末にスピナーを描画するAffordance。
// Show から Hide までの間、intervalごとに1行を書き換える。
type Spinner struct {
	w        io.Writer
	label    string
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSpinner はwに描画するSpinnerを生成する。
func NewSpinner(w io.Writer, label string) *Spinner {
	return &Spinner{
		w:        w,
		label:    label,
		interval: 100 * time.Millisecond,
	}
}

// Show は描画を開始する。既に描画中の場合は何もしない。
func (s *Spinner) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

// Hide は描画を止めて行を消去する。
func (s *Spinner) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	fmt.Fprint(s.w, "\r\033[K")
}

func (s *Spinner) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.label)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
