// Package pipeline turns the cluster event stream into delivered alerts.
//
// A Pipeline captures a resume token from a full listing, then reads the
// event stream from that token and processes one event at a time: classify,
// dedup, fetch logs, analyze, deliver. Per-event failures are absorbed and
// logged; only startup failures and stream termination end a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rbias/crashwatch/internal/analysis"
	"github.com/rbias/crashwatch/internal/dedup"
	"github.com/rbias/crashwatch/internal/events"
	"github.com/rbias/crashwatch/internal/reporting"
)

var (
	// ErrStartup wraps failures during Initialize. The pipeline never starts streaming after one.
	ErrStartup = errors.New("pipeline startup failed")

	// ErrStreamTerminated is returned by Run when the event stream ends on its own.
	ErrStreamTerminated = errors.New("event stream terminated")

	errStreamClosed = errors.New("stream closed without error")
)

// DefaultDedupWindow is how long an alerted object stays suppressed.
const DefaultDedupWindow = 300 * time.Second

// EventSource lists and streams cluster events.
type EventSource interface {
	// List returns the resume token of the current event history.
	List(ctx context.Context) (events.ResumeToken, error)

	// Stream returns events that happened strictly after from.
	Stream(ctx context.Context, from events.ResumeToken) (events.Stream, error)
}

// LogRetriever finds a log excerpt for a failing object.
type LogRetriever interface {
	Fetch(ctx context.Context, kind, name, namespace string) (string, bool)
}

// Sink is the output boundary.
type Sink interface {
	Deliver(ctx context.Context, alert *reporting.Alert) error
}

// Deps are the collaborators a pipeline owns for one run.
type Deps struct {
	Source   EventSource
	Cache    dedup.Cache
	Logs     LogRetriever
	Analyzer analysis.Analyzer
	Sink     Sink
	Metrics  *Metrics
}

// Options tune a pipeline. Zero values select defaults.
type Options struct {
	DedupWindow    time.Duration
	CacheTimeout   time.Duration
	DeliverTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.CacheTimeout <= 0 {
		o.CacheTimeout = 5 * time.Second
	}
	if o.DeliverTimeout <= 0 {
		o.DeliverTimeout = 30 * time.Second
	}
	return o
}

// Pipeline processes a single event stream. It is not restartable: after Run
// returns, build a new Pipeline to resume.
type Pipeline struct {
	deps Deps
	opts Options

	token       events.ResumeToken
	initialized bool

	mu     sync.RWMutex
	status Status
}

// New creates a pipeline. Metrics may be nil, in which case collectors are
// registered with a private registry.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts.withDefaults(),
		status: Status{State: StateInitializing},
	}
}

// Initialize captures the resume token and checks that the dedup cache is
// reachable. Either failure is returned wrapped in ErrStartup.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.setState(StateInitializing)

	token, err := p.deps.Source.List(ctx)
	if err != nil {
		p.terminate(err)
		return fmt.Errorf("%w: list events: %w", ErrStartup, err)
	}

	if err := p.deps.Cache.Ping(ctx); err != nil {
		p.terminate(err)
		return fmt.Errorf("%w: dedup cache unreachable: %w", ErrStartup, err)
	}

	p.token = token
	p.initialized = true
	p.mu.Lock()
	p.status.ResumeToken = token
	p.mu.Unlock()

	slog.Info("pipeline initialized", "resume_token", token)
	return nil
}

// Run streams events from the resume token until ctx is cancelled, in which
// case it returns nil, or the stream ends, in which case the error wraps
// ErrStreamTerminated.
//
// Events are processed one at a time in stream order. Cancellation is only
// observed while waiting for the next event; an event already being processed
// runs to completion, bounded by per-call timeouts.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.initialized {
		return fmt.Errorf("%w: Run called before Initialize", ErrStartup)
	}

	stream, err := p.deps.Source.Stream(ctx, p.token)
	if err != nil {
		if ctx.Err() != nil {
			p.setState(StateTerminated)
			return nil
		}
		p.terminate(err)
		return fmt.Errorf("%w: open stream at %q: %w", ErrStreamTerminated, p.token, err)
	}
	defer stream.Stop()

	p.setState(StateStreaming)
	slog.Info("streaming cluster events", "resume_token", p.token)

	workCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return p.stopped()
		}

		select {
		case <-ctx.Done():
			return p.stopped()
		case ev, ok := <-stream.ResultChan():
			if !ok {
				if ctx.Err() != nil {
					return p.stopped()
				}
				cause := stream.Err()
				if cause == nil {
					cause = errStreamClosed
				}
				p.terminate(cause)
				slog.Error("event stream terminated", "error", cause)
				return fmt.Errorf("%w: %w", ErrStreamTerminated, cause)
			}

			p.process(workCtx, ev)
			p.setState(StateStreaming)
		}
	}
}

// Status returns a snapshot of the pipeline's progress.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := p.status
	if st.LastEvent != nil {
		t := *st.LastEvent
		st.LastEvent = &t
	}
	return st
}

func (p *Pipeline) process(ctx context.Context, ev events.ClusterEvent) {
	start := time.Now()
	defer func() {
		p.deps.Metrics.EventProcessingSeconds.Observe(time.Since(start).Seconds())
	}()

	p.mu.Lock()
	p.status.EventsSeen++
	p.status.LastEvent = &start
	p.status.State = StateClassifying
	p.mu.Unlock()
	p.deps.Metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	fc, ok := events.Classify(ev)
	if !ok {
		return
	}
	p.count(func(s *Status) { s.WarningsSeen++ })

	if !p.claim(ctx, fc) {
		return
	}

	alert := reporting.NewAlert(fc)

	if fc.IsPod() {
		p.setState(StateLogFetching)
		if excerpt, found := p.deps.Logs.Fetch(ctx, fc.ObjectKind, fc.ObjectName, fc.Namespace); found {
			alert.Context = fc.WithLogs(excerpt)
		}
	}

	if alert.Context.HasLogs {
		p.setState(StateAnalyzing)
		text, err := p.deps.Analyzer.Analyze(ctx, analysis.RequestFrom(alert.Context))
		alert.Analyzed = true
		if err != nil {
			alert.AnalysisErr = err
			p.deps.Metrics.AnalysisTotal.WithLabelValues(string(analysis.KindOf(err))).Inc()
		} else {
			alert.Analysis = text
			p.deps.Metrics.AnalysisTotal.WithLabelValues("success").Inc()
		}
	}

	p.setState(StateDelivering)
	deliverCtx, cancel := context.WithTimeout(ctx, p.opts.DeliverTimeout)
	defer cancel()
	if err := p.deps.Sink.Deliver(deliverCtx, alert); err != nil {
		slog.Error("failed to deliver alert",
			"alert_id", alert.ID,
			"object", fc.ObjectName,
			"error", err)
		p.recordError(err)
	}
	p.count(func(s *Status) { s.Alerts++ })
	p.deps.Metrics.AlertsTotal.WithLabelValues(alert.Path()).Inc()
}

// claim checks the dedup cache for fc and, on a miss, marks it before any
// further work. It returns false when the event must be dropped.
func (p *Pipeline) claim(ctx context.Context, fc events.FailureContext) bool {
	key := fc.DedupKey()

	cacheCtx, cancel := context.WithTimeout(ctx, p.opts.CacheTimeout)
	defer cancel()

	seen, err := p.deps.Cache.Exists(cacheCtx, key)
	if err != nil {
		p.dedupFailed(fc, err)
		return false
	}
	if seen {
		p.setState(StateDeduped)
		p.count(func(s *Status) { s.Suppressed++ })
		p.deps.Metrics.SuppressedTotal.Inc()
		slog.Debug("suppressed repeated warning",
			"object", key,
			"namespace", fc.Namespace,
			"reason", fc.Reason)
		return false
	}

	if err := p.deps.Cache.SetWithExpiry(cacheCtx, key, p.opts.DedupWindow); err != nil {
		p.dedupFailed(fc, err)
		return false
	}
	return true
}

func (p *Pipeline) dedupFailed(fc events.FailureContext, err error) {
	slog.Error("dedup cache failed, dropping warning",
		"object", fc.ObjectName,
		"namespace", fc.Namespace,
		"reason", fc.Reason,
		"error", err)
	p.deps.Metrics.DedupErrorsTotal.Inc()
	p.recordError(err)
}

func (p *Pipeline) stopped() error {
	p.setState(StateTerminated)
	slog.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = s
}

func (p *Pipeline) count(f func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.status)
}

func (p *Pipeline) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastError = err.Error()
}

func (p *Pipeline) terminate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = StateTerminated
	p.status.LastError = err.Error()
}
