package feed

import "sync"

// Watermark holds the highest catalog ID already broadcast. It starts absent
// and, once set, never decreases.
type Watermark struct {
	mu    sync.Mutex
	value uint64
	set   bool
}

// Get returns the current value and whether one has been established.
func (w *Watermark) Get() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.set
}

// Advance stores id if no value exists yet or id is strictly greater than the
// current value. Regressions are ignored and reported as false.
func (w *Watermark) Advance(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.set && id <= w.value {
		return false
	}
	w.value = id
	w.set = true
	return true
}
