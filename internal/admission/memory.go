package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. It suits a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
	now     func() time.Time
}

// NewMemoryStore returns an empty store; now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{windows: make(map[string]Window), now: now}
}

func (m *MemoryStore) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = Window{ResetAt: now.Add(window)}
	}
	w.Count++
	m.windows[key] = w
	return w, nil
}

// Sweep drops expired windows and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.ResetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx ends.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Len reports the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
