package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/rbias/crashwatch/internal/config"
)

// BackoffFromTuning builds the restart backoff from supervisor tuning.
func BackoffFromTuning(t config.SupervisorTuning) wait.Backoff {
	return wait.Backoff{
		Duration: time.Duration(t.InitialBackoffSeconds) * time.Second,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      time.Duration(t.MaxBackoffSeconds) * time.Second,
	}
}

// Supervisor keeps a pipeline running. When the event stream terminates it
// waits with exponential backoff and starts a fresh pipeline, which re-lists
// to capture a new resume token. Warnings raised during the gap are picked up
// only if the API server still reports them after the new token; the
// external dedup cache keeps already-alerted objects suppressed.
type Supervisor struct {
	newPipeline func() *Pipeline
	backoff     wait.Backoff
	metrics     *Metrics

	mu       sync.RWMutex
	current  *Pipeline
	restarts int
}

// NewSupervisor creates a supervisor. newPipeline is called for every run.
func NewSupervisor(newPipeline func() *Pipeline, backoff wait.Backoff, metrics *Metrics) *Supervisor {
	return &Supervisor{
		newPipeline: newPipeline,
		backoff:     backoff,
		metrics:     metrics,
	}
}

// Run blocks until ctx is cancelled. A startup failure of the first pipeline
// is returned as is; later startup failures are retried.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.backoff
	first := true

	for {
		p := s.newPipeline()
		s.mu.Lock()
		s.current = p
		s.mu.Unlock()

		err := p.Initialize(ctx)
		switch {
		case err != nil && first:
			return err
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("pipeline restart failed, retrying", "error", err, "restarts", s.Restarts())
		default:
			first = false
			started := time.Now()
			err = p.Run(ctx)
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrStreamTerminated) {
				return err
			}
			if time.Since(started) > backoff.Cap {
				backoff = s.backoff
			}
			slog.Error("event stream lost, restarting pipeline from a fresh listing",
				"error", err,
				"ran_for", time.Since(started).Round(time.Second),
				"restarts", s.Restarts())
		}

		delay := backoff.Step()
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RestartsTotal.Inc()
		}
		slog.Warn("waiting before pipeline restart", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Restarts returns how many times a pipeline has been restarted.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Status reports the current pipeline's status with the restart count.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	p, restarts := s.current, s.restarts
	s.mu.RUnlock()

	if p == nil {
		return Status{State: StateInitializing, Restarts: restarts}
	}
	st := p.Status()
	st.Restarts = restarts
	return st
}
