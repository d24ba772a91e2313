package pipeline

import (
	"guardian/internal/config"
	"guardian/internal/event"
)

// flagWindow is a fixed-capacity ring of per-tick raw flags
type flagWindow struct {
	buf   []bool
	start int
	n     int
}

func newFlagWindow(capacity int) *flagWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &flagWindow{buf: make([]bool, capacity)}
}

// push appends a flag, evicting the oldest when full
func (w *flagWindow) push(v bool) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// values returns the flags oldest first
func (w *flagWindow) values() []bool {
	out := make([]bool, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *flagWindow) count() int {
	c := 0
	for i := 0; i < w.n; i++ {
		if w.buf[(w.start+i)%len(w.buf)] {
			c++
		}
	}
	return c
}

// resize changes the capacity keeping the newest flags
func (w *flagWindow) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(w.buf) {
		return
	}
	vals := w.values()
	if len(vals) > capacity {
		vals = vals[len(vals)-capacity:]
	}
	w.buf = make([]bool, capacity)
	w.start = 0
	w.n = copy(w.buf, vals)
}

// TemporalAggregator promotes raw per-tick decisions to a published status
// with a K-of-N rule per event type
type TemporalAggregator struct {
	windows map[event.Type]*flagWindow
	size    int
}

// NewTemporalAggregator creates one window per event type
func NewTemporalAggregator(cfg config.TemporalConfig) *TemporalAggregator {
	ta := &TemporalAggregator{
		windows: make(map[event.Type]*flagWindow, len(event.All())),
		size:    cfg.WindowSize,
	}
	for _, t := range event.All() {
		ta.windows[t] = newFlagWindow(cfg.WindowSize)
	}
	return ta
}

// Update pushes the raw flag of an event and returns its published state.
// The event is detected iff at least required of the last N flags are set
// and confidence is positive.
func (ta *TemporalAggregator) Update(t event.Type, raw bool, confidence float64, required int) EventState {
	w, ok := ta.windows[t]
	if !ok {
		w = newFlagWindow(ta.size)
		ta.windows[t] = w
	}
	w.push(raw)

	confidence = Clamp01(confidence)
	status := event.StatusNotDetected
	if w.count() >= required && confidence > 0 {
		status = event.StatusDetected
	}
	return EventState{Confidence: confidence, Status: status}
}

// Resize applies a new window size to every ring
func (ta *TemporalAggregator) Resize(size int) {
	if size == ta.size {
		return
	}
	ta.size = size
	for _, w := range ta.windows {
		w.resize(size)
	}
}

// Window returns the flags of an event oldest first
func (ta *TemporalAggregator) Window(t event.Type) []bool {
	if w, ok := ta.windows[t]; ok {
		return w.values()
	}
	return nil
}
