// Package timing keeps rolling averages of processing durations and predicts
// how long queued work will take from them.
package timing

import (
	"sync"
	"time"
)

const DefaultWindow = 50

type window struct {
	samples []time.Duration
	next    int
	sum     time.Duration
}

func (w *window) add(d time.Duration, size int) {
	if len(w.samples) < size {
		w.samples = append(w.samples, d)
		w.sum += d
		return
	}
	w.sum -= w.samples[w.next]
	w.samples[w.next] = d
	w.sum += d
	w.next = (w.next + 1) % size
}

// Tracker holds the last size samples per key.
type Tracker struct {
	mu      sync.RWMutex
	size    int
	windows map[string]*window
}

func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Tracker{size: size, windows: make(map[string]*window)}
}

func (t *Tracker) Add(key string, d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[key]
	if !ok {
		w = &window{}
		t.windows[key] = w
	}
	w.add(d, t.size)
}

func (t *Tracker) Average(key string) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[key]
	if !ok || len(w.samples) == 0 {
		return 0, false
	}
	return w.sum / time.Duration(len(w.samples)), true
}

// Predict estimates the time amount items need when each runs every key
// once on one of parallel workers. Keys without samples count as zero.
func (t *Tracker) Predict(keys []string, amount, parallel int) time.Duration {
	if amount <= 0 {
		return 0
	}
	if parallel <= 0 {
		parallel = 1
	}
	var per time.Duration
	for _, k := range keys {
		if avg, ok := t.Average(k); ok {
			per += avg
		}
	}
	rounds := (amount + parallel - 1) / parallel
	return per * time.Duration(rounds)
}
