package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter coalesces text written under the same key within one
// interval into a single flush.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingText
	interval time.Duration
	onFlush  func(key, text string)
}

type pendingText struct {
	texts []string
	timer *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(key, text string)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingText),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(key, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[key]
	if !exists {
		p = &pendingText{}
		r.pending[key] = p
	}
	p.texts = append(p.texts, text)

	if p.timer == nil {
		p.timer = time.AfterFunc(r.interval, func() {
			r.flush(key)
		})
	}
}

func (r *RateLimiter) flush(key string) {
	r.mu.Lock()
	p, exists := r.pending[key]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, key)
	p.timer.Stop()
	r.mu.Unlock()

	if r.onFlush != nil && len(p.texts) > 0 {
		r.onFlush(key, strings.Join(p.texts, ""))
	}
}

func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	keys := make([]string, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.flush(k)
	}
}
