package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rbias/crashwatch/internal/analysis"
	"github.com/rbias/crashwatch/internal/dedup"
	"github.com/rbias/crashwatch/internal/events"
	"github.com/rbias/crashwatch/internal/podlogs"
	"github.com/rbias/crashwatch/internal/reporting"
)

var errEndOfTest = errors.New("test stream ended")

// fakeStream is an events.Stream fed by the test.
type fakeStream struct {
	ch      chan events.ClusterEvent
	err     error
	stopped atomic.Bool
}

func newFakeStream(evs ...events.ClusterEvent) *fakeStream {
	s := &fakeStream{ch: make(chan events.ClusterEvent, len(evs)+16)}
	for _, ev := range evs {
		s.ch <- ev
	}
	return s
}

// end closes the stream with err after the queued events.
func (s *fakeStream) end(err error) *fakeStream {
	s.err = err
	close(s.ch)
	return s
}

func (s *fakeStream) ResultChan() <-chan events.ClusterEvent { return s.ch }
func (s *fakeStream) Err() error                             { return s.err }
func (s *fakeStream) Stop()                                  { s.stopped.Store(true) }

// fakeSource hands out queued streams. Once the queue is empty it returns
// streams that stay open until the caller stops reading.
type fakeSource struct {
	mu        sync.Mutex
	token     events.ResumeToken
	listErrs  []error
	streamErr error
	queue     []*fakeStream
	opened    []events.ResumeToken
	lists     int
}

func (f *fakeSource) List(ctx context.Context) (events.ResumeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.token, nil
}

func (f *fakeSource) Stream(ctx context.Context, from events.ResumeToken) (events.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, from)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if len(f.queue) == 0 {
		return newFakeStream(), nil
	}
	s := f.queue[0]
	f.queue = f.queue[1:]
	return s, nil
}

func (f *fakeSource) push(s *fakeStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, s)
}

func (f *fakeSource) openedAt() []events.ResumeToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.ResumeToken(nil), f.opened...)
}

func (f *fakeSource) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// countingCache records calls to the wrapped cache and can inject errors.
type countingCache struct {
	dedup.Cache
	exists    atomic.Int32
	sets      atomic.Int32
	existsErr error
}

func (c *countingCache) Exists(ctx context.Context, key string) (bool, error) {
	c.exists.Add(1)
	if c.existsErr != nil {
		return false, c.existsErr
	}
	return c.Cache.Exists(ctx, key)
}

func (c *countingCache) SetWithExpiry(ctx context.Context, key string, ttl time.Duration) error {
	c.sets.Add(1)
	return c.Cache.SetWithExpiry(ctx, key, ttl)
}

// stubLogs is a podlogs.Source with fixed answers.
type stubLogs struct {
	current, previous       string
	currentErr, previousErr error
	calls                   atomic.Int32
}

func (s *stubLogs) CurrentLog(ctx context.Context, name, namespace string, tailLines int) (string, error) {
	s.calls.Add(1)
	return s.current, s.currentErr
}

func (s *stubLogs) PreviousLog(ctx context.Context, name, namespace string, tailLines int) (string, error) {
	s.calls.Add(1)
	return s.previous, s.previousErr
}

type fakeAnalyzer struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []analysis.Request
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	return a.text, a.err
}

func (a *fakeAnalyzer) requests() []analysis.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]analysis.Request(nil), a.reqs...)
}

type fakeSink struct {
	mu     sync.Mutex
	err    error
	alerts []*reporting.Alert
}

func (s *fakeSink) Deliver(ctx context.Context, a *reporting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *fakeSink) delivered() []*reporting.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*reporting.Alert(nil), s.alerts...)
}

// harness wires a pipeline to fakes and a miniredis-backed dedup cache.
type harness struct {
	mr       *miniredis.Miniredis
	src      *fakeSource
	cache    *countingCache
	logs     *stubLogs
	analyzer *fakeAnalyzer
	sink     *fakeSink
	metrics  *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	redis := dedup.NewRedis(&dedup.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redis.Close() })

	return &harness{
		mr:       mr,
		src:      &fakeSource{token: "1000"},
		cache:    &countingCache{Cache: redis},
		logs:     &stubLogs{current: "starting server\n"},
		analyzer: &fakeAnalyzer{text: "## Root Cause\nnil map write"},
		sink:     &fakeSink{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
}

func (h *harness) newPipeline() *Pipeline {
	return New(Deps{
		Source:   h.src,
		Cache:    h.cache,
		Logs:     podlogs.NewRetriever(h.logs, 50, time.Second, podlogs.WithObserver(h.metrics.ObserveLogAttempt)),
		Analyzer: h.analyzer,
		Sink:     h.sink,
		Metrics:  h.metrics,
	}, Options{})
}

// run processes evs through a fresh pipeline and returns it once the stream ends.
func (h *harness) run(t *testing.T, evs ...events.ClusterEvent) *Pipeline {
	t.Helper()
	h.src.push(newFakeStream(evs...).end(errEndOfTest))

	p := h.newPipeline()
	require.NoError(t, p.Initialize(context.Background()))
	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrStreamTerminated)
	require.ErrorIs(t, err, errEndOfTest)
	return p
}

func warning(name, reason string) events.ClusterEvent {
	return events.ClusterEvent{
		Type:                    events.TypeWarning,
		InvolvedObjectKind:      events.KindPod,
		InvolvedObjectName:      name,
		InvolvedObjectNamespace: "prod",
		Reason:                  reason,
		Message:                 "back-off restarting failed container",
	}
}
