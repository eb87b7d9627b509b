package pipeline

import (
	"sync"
	"time"
)

// Sampler allows at most Limit events per fixed window. Events past the
// allotment are dropped until the next window opens.
type Sampler struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	used   int
	now    func() time.Time
}

// NewSampler creates a sampler allowing limit events per hour.
// A limit of zero or less allows nothing.
func NewSampler(limit int) *Sampler {
	return newSampler(limit, time.Hour, time.Now)
}

func newSampler(limit int, window time.Duration, now func() time.Time) *Sampler {
	return &Sampler{limit: limit, window: window, now: now}
}

// Allow consumes one slot of the current window if any remain.
func (s *Sampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.start.IsZero() || now.Sub(s.start) >= s.window {
		s.start = now
		s.used = 0
	}
	if s.used >= s.limit {
		return false
	}
	s.used++
	return true
}
