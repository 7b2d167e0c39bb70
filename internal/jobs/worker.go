// Package jobs runs background work on an interval or on file changes.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/telemetry"
)

// Job is one unit of periodic work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Worker runs a Job every interval until stopped. Runs never overlap: a tick
// that fires while a run is in progress is dropped.
type Worker struct {
	job      Job
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(job Job, interval time.Duration) *Worker {
	return &Worker{
		job:      job,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the polling loop and blocks until ctx is done or Stop is called
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Printf("worker %s started with interval %v", w.job.Name(), w.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker %s stopped", w.job.Name())
			return
		case <-ticker.C:
			start := time.Now()
			if err := w.job.Run(ctx); err != nil {
				log.Printf("worker %s: run failed after %v: %v", w.job.Name(), time.Since(start).Round(time.Millisecond), err)
				telemetry.CaptureError(ctx, err)
			}
		}
	}
}

// Stop cancels an in-flight run and waits for the loop to exit
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Printf("worker %s shutdown complete", w.job.Name())
}
