// Package clock provides the per-session countdown used by exam sessions.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNegativeStart is returned when Start is called with fewer than zero seconds.
	ErrNegativeStart = errors.New("clock: initial seconds must be >= 0")
	// ErrRunning is returned when Start is called on a clock that is already counting down.
	ErrRunning = errors.New("clock: already running")
)

// Clock counts down whole seconds. onTick receives initialSeconds first, then
// one value per second down to and including 0, which is always the last tick.
type Clock interface {
	Start(initialSeconds int, onTick func(remaining int)) error
	// Stop must be safe to call more than once and from inside onTick.
	Stop()
}

// Ticker is the wall-clock implementation backed by time.Ticker.
type Ticker struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewTicker returns a Ticker firing once per second.
func NewTicker() *Ticker {
	return NewTickerWithInterval(time.Second)
}

// NewTickerWithInterval lets tests run the countdown faster than real time.
func NewTickerWithInterval(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{interval: interval}
}

func (t *Ticker) Start(initialSeconds int, onTick func(remaining int)) error {
	if initialSeconds < 0 {
		return ErrNegativeStart
	}
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return ErrRunning
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.run(initialSeconds, onTick, stop)
	return nil
}

// Stop halts the countdown. A tick already being dispatched when Stop is
// called may still complete; no new tick begins afterwards.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Ticker) run(remaining int, onTick func(int), stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	defer t.release(stop)

	if !t.emit(stop, onTick, remaining) {
		return
	}
	for remaining > 0 {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		remaining--
		if !t.emit(stop, onTick, remaining) {
			return
		}
	}
}

func (t *Ticker) emit(stop chan struct{}, onTick func(int), remaining int) bool {
	select {
	case <-stop:
		return false
	default:
	}
	onTick(remaining)
	return true
}

// release clears the running marker once a countdown finishes on its own.
func (t *Ticker) release(stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == stop {
		t.stop = nil
	}
}

// FormatTime renders seconds as M:SS. Negative values render as 0:00.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
