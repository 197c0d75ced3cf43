package clock

import (
	"sync"
	"testing"
	"time"
)

func TestVirtualDeliversInitialPlusOneTicks(t *testing.T) {
	for _, initial := range []int{0, 1, 5, 60} {
		v := NewVirtual()
		var got []int
		if err := v.Start(initial, func(r int) { got = append(got, r) }); err != nil {
			t.Fatalf("start %d: %v", initial, err)
		}
		v.Advance(initial + 10)

		if len(got) != initial+1 {
			t.Fatalf("initial=%d: expected %d ticks, got %d", initial, initial+1, len(got))
		}
		for i, r := range got {
			if r != initial-i {
				t.Fatalf("initial=%d: tick %d = %d, want %d", initial, i, r, initial-i)
			}
		}
		if got[len(got)-1] != 0 {
			t.Fatalf("zero tick must be last, got %v", got)
		}
		if v.Running() {
			t.Fatalf("clock should stop after the zero tick")
		}
	}
}

func TestVirtualNoTicksAfterStop(t *testing.T) {
	v := NewVirtual()
	ticks := 0
	_ = v.Start(10, func(int) { ticks++ })
	v.Advance(3)
	v.Stop()
	if n := v.Advance(5); n != 0 {
		t.Fatalf("expected no ticks after stop, advance delivered %d", n)
	}
	if ticks != 4 {
		t.Fatalf("expected 4 ticks before stop, got %d", ticks)
	}
}

func TestVirtualStopFromCallback(t *testing.T) {
	v := NewVirtual()
	var got []int
	_ = v.Start(5, func(r int) {
		got = append(got, r)
		if r == 3 {
			v.Stop()
		}
	})
	v.Advance(5)
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("expected ticks 5,4,3 then stop, got %v", got)
	}
}

func TestStartRejectsNegativeAndDoubleStart(t *testing.T) {
	v := NewVirtual()
	if err := v.Start(-1, func(int) {}); err != ErrNegativeStart {
		t.Fatalf("expected ErrNegativeStart, got %v", err)
	}
	_ = v.Start(3, func(int) {})
	if err := v.Start(3, func(int) {}); err != ErrRunning {
		t.Fatalf("expected ErrRunning, got %v", err)
	}

	tk := NewTickerWithInterval(time.Millisecond)
	if err := tk.Start(-5, func(int) {}); err != ErrNegativeStart {
		t.Fatalf("expected ErrNegativeStart from ticker, got %v", err)
	}
}

func TestTickerCountsDownToZero(t *testing.T) {
	tk := NewTickerWithInterval(2 * time.Millisecond)
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	err := tk.Start(3, func(r int) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		if r == 0 {
			close(done)
		}
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker never reached zero")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 || got[0] != 3 || got[3] != 0 {
		t.Fatalf("expected 3,2,1,0 got %v", got)
	}
}

func TestTickerStopHaltsTicks(t *testing.T) {
	tk := NewTickerWithInterval(5 * time.Millisecond)
	var mu sync.Mutex
	ticks := 0
	_ = tk.Start(1000, func(int) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	time.Sleep(20 * time.Millisecond)
	tk.Stop()
	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	seen := ticks
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ticks != seen {
		t.Fatalf("ticks kept firing after stop: %d -> %d", seen, ticks)
	}
	tk.Stop()
}

func TestFormatTime(t *testing.T) {
	cases := map[int]string{125: "2:05", 59: "0:59", 0: "0:00", 600: "10:00", -4: "0:00"}
	for in, want := range cases {
		if got := FormatTime(in); got != want {
			t.Fatalf("FormatTime(%d) = %q, want %q", in, got, want)
		}
	}
}
