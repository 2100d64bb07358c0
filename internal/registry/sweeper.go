package registry

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultSweepInterval is how often terminal jobs are checked for eviction.
	DefaultSweepInterval = 30 * time.Minute
	// DefaultRetention is how long a terminal job stays queryable after it
	// finished, so pollers that missed the live events can still resolve it.
	DefaultRetention = time.Hour
)

// Sweeper bounds registry memory by evicting terminal jobs past the retention
// window. It never touches non-terminal jobs: a stuck active job is a bug to
// surface, not to hide.
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	retention time.Duration
}

// NewSweeper creates a sweeper for the registry. Zero durations fall back to
// the defaults.
func NewSweeper(reg *Registry, interval, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		registry:  reg,
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.Sweep(time.Now()); evicted > 0 {
				log.Printf("Sweeper evicted %d finished jobs", evicted)
			}
		}
	}
}

// Sweep evicts terminal jobs whose completion is older than the retention
// window relative to now, and returns how many were removed.
func (s *Sweeper) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	evicted := 0
	for id, job := range s.registry.jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.registry.jobs, id)
			evicted++
		}
	}
	return evicted
}
