package view

import (
	"sync"
	"time"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/metrics"
)

// Scheduler recomputes views off the request path so a filter change never
// blocks on a full recompute over a large snapshot. Latest submission wins;
// stale results are discarded. This is purely a responsiveness optimization:
// callers needing a guaranteed-fresh view call Compose directly.
type Scheduler struct {
	mu      sync.Mutex
	version uint64
	latest  *View
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Submit schedules a recompute and returns immediately. The result is
// published through Latest once ready, unless a newer submission superseded
// it.
func (s *Scheduler) Submit(snapshot aggregator.Snapshot, req Request, now time.Time) {
	s.mu.Lock()
	s.version++
	version := s.version
	s.mu.Unlock()

	go func() {
		start := time.Now()
		v := Compose(snapshot, req, now)
		metrics.ViewComposeDuration.WithLabelValues("true").Observe(time.Since(start).Seconds())

		s.mu.Lock()
		defer s.mu.Unlock()
		if version == s.version {
			s.latest = &v
		}
	}()
}

// Latest returns the most recently published view, if any.
func (s *Scheduler) Latest() (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return nil, false
	}
	v := *s.latest
	return &v, true
}
