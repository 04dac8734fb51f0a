// Package scheduler runs the engine's periodic cycles on tickers. Each job
// is isolated: a panic or error in one run is logged and the ticker keeps
// going.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is one schedulable unit of work.
type Job func(ctx context.Context) error

// Scheduler owns the ticker goroutines for all registered jobs.
type Scheduler struct {
	wg sync.WaitGroup
}

// New creates a scheduler
func New() *Scheduler {
	return &Scheduler{}
}

// Every runs the job once immediately and then on every tick until the
// context is cancelled.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("Scheduler: %s running every %s", name, interval)
		s.runOnce(ctx, name, job)

		for {
			select {
			case <-ctx.Done():
				log.Printf("Scheduler: %s stopped", name)
				return
			case <-ticker.C:
				s.runOnce(ctx, name, job)
			}
		}
	}()
}

// runOnce executes one cycle with panic recovery.
func (s *Scheduler) runOnce(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scheduler: %s panicked: %v", name, r)
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		log.Printf("Scheduler: %s failed after %s: %v",
			name, time.Since(start).Round(time.Millisecond), err)
	}
}

// Wait blocks until every job goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
