package clock

import "sync"

// Virtual is a deterministic Clock for tests. The initial tick is delivered
// synchronously from Start; later ticks are delivered by Advance.
type Virtual struct {
	mu        sync.Mutex
	running   bool
	remaining int
	onTick    func(int)
	delivered int
	starts    int
}

func NewVirtual() *Virtual {
	return &Virtual{}
}

func (v *Virtual) Start(initialSeconds int, onTick func(remaining int)) error {
	if initialSeconds < 0 {
		return ErrNegativeStart
	}
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return ErrRunning
	}
	v.running = true
	v.remaining = initialSeconds
	v.onTick = onTick
	v.starts++
	v.mu.Unlock()

	v.deliver(initialSeconds)
	return nil
}

func (v *Virtual) Stop() {
	v.mu.Lock()
	v.running = false
	v.mu.Unlock()
}

// Advance simulates the given number of elapsed seconds and returns how many
// ticks were delivered.
func (v *Virtual) Advance(seconds int) int {
	delivered := 0
	for i := 0; i < seconds; i++ {
		v.mu.Lock()
		if !v.running || v.remaining == 0 {
			v.mu.Unlock()
			break
		}
		v.remaining--
		remaining := v.remaining
		v.mu.Unlock()

		if !v.deliver(remaining) {
			break
		}
		delivered++
	}
	return delivered
}

func (v *Virtual) deliver(remaining int) bool {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return false
	}
	fn := v.onTick
	v.delivered++
	if remaining == 0 {
		v.running = false
	}
	v.mu.Unlock()

	fn(remaining)
	return true
}

// Running reports whether the countdown is active.
func (v *Virtual) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// Delivered is the total number of ticks handed to onTick.
func (v *Virtual) Delivered() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.delivered
}

// Starts counts successful Start calls.
func (v *Virtual) Starts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.starts
}
