package governor

import (
	"context"
	"sync"
	"time"
)

// WindowStats summarises the calls recorded inside the trailing window.
type WindowStats struct {
	Count  int
	Oldest time.Time
	Newest time.Time
}

// Window stores call timestamps for rate accounting.
type Window interface {
	// Stats drops entries at or before since and summarises the rest.
	Stats(ctx context.Context, since time.Time) (WindowStats, error)
	// Record adds a call made at the given time.
	Record(ctx context.Context, at time.Time) error
}

// MemoryWindow keeps call timestamps in process memory.
type MemoryWindow struct {
	mu    sync.Mutex
	calls []time.Time
}

// NewMemoryWindow creates an empty in-memory window.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{}
}

// Stats implements Window.
func (w *MemoryWindow) Stats(_ context.Context, since time.Time) (WindowStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keep := w.calls[:0]
	for _, c := range w.calls {
		if c.After(since) {
			keep = append(keep, c)
		}
	}
	w.calls = keep

	stats := WindowStats{Count: len(w.calls)}
	if len(w.calls) > 0 {
		stats.Oldest = w.calls[0]
		stats.Newest = w.calls[len(w.calls)-1]
	}
	return stats, nil
}

// Record implements Window. Calls are kept ordered by time.
func (w *MemoryWindow) Record(_ context.Context, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := len(w.calls)
	for i > 0 && w.calls[i-1].After(at) {
		i--
	}
	w.calls = append(w.calls, time.Time{})
	copy(w.calls[i+1:], w.calls[i:])
	w.calls[i] = at
	return nil
}
