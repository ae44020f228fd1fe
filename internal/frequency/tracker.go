// Package frequency tracks per-(operation, actor) call rates over a sliding
// time window, so callers can detect abusive request patterns. The tracker
// only reports window lengths; thresholds and alerting are the caller's
// concern.
package frequency

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultWindow is the sliding window size used when none is configured.
	DefaultWindow = time.Minute

	// DefaultMaxWindows caps how many (operation, actor) pairs are tracked
	// at once. The backing LRU evicts the least recently active window when
	// the cap is exceeded, so hostile actor cardinality cannot grow the
	// table without bound.
	DefaultMaxWindows = 1024
)

// Tracker maintains a sliding window of call timestamps per
// (operation, actor) pair. Windows idle for longer than the window size are
// expired by the backing LRU; active windows are pruned from the front on
// every call, which is O(expired-count) because timestamps are appended in
// order.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	windows *lru.LRU[string, []time.Time]

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewTracker creates a tracker with the given sliding window size and a cap
// on the number of simultaneously tracked (operation, actor) pairs.
// Non-positive arguments select the package defaults.
func NewTracker(window time.Duration, maxWindows int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxWindows <= 0 {
		maxWindows = DefaultMaxWindows
	}
	return &Tracker{
		window:  window,
		windows: lru.NewLRU[string, []time.Time](maxWindows, nil, window),
		now:     time.Now,
	}
}

// RecordCall appends "now" to the window for the given operation and actor,
// prunes every timestamp that has fallen out of the sliding window, and
// returns the resulting window length.
func (t *Tracker) RecordCall(operation, actor string) int {
	key := windowKey(operation, actor)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	win, _ := t.windows.Get(key)
	win = append(win, now)
	win = prune(win, now.Add(-t.window))
	t.windows.Add(key, win)
	return len(win)
}

// WindowLength reports the current window length for the given operation and
// actor without recording a call. Timestamps already outside the window are
// not counted.
func (t *Tracker) WindowLength(operation, actor string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	win, ok := t.windows.Get(windowKey(operation, actor))
	if !ok {
		return 0
	}
	return len(prune(win, t.now().Add(-t.window)))
}

// ActiveWindows returns the number of (operation, actor) pairs currently
// tracked.
func (t *Tracker) ActiveWindows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.windows.Len()
}

// Window returns the configured sliding window size.
func (t *Tracker) Window() time.Duration {
	return t.window
}

func windowKey(operation, actor string) string {
	return operation + "_" + actor
}

// prune drops leading timestamps strictly older than cutoff. The window is
// insertion-ordered, so only the front needs examining.
func prune(win []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(win) && win[i].Before(cutoff) {
		i++
	}
	return win[i:]
}
