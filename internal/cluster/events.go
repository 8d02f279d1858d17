package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	watchtools "k8s.io/client-go/tools/watch"

	"github.com/rbias/crashwatch/internal/events"
)

// ErrEmptyResumeToken is returned when a stream is requested without a position.
var ErrEmptyResumeToken = errors.New("resume token is empty")

// errWatchClosed is reported when the underlying watch ends without an error event.
var errWatchClosed = errors.New("event watch closed unexpectedly")

// EventSource reads core/v1 Events from the Kubernetes API.
// An empty namespace watches all namespaces.
type EventSource struct {
	client     kubernetes.Interface
	namespace  string
	bufferSize int
}

// NewEventSource creates an EventSource. bufferSize sets the capacity of the
// channel between the watch and the consumer.
func NewEventSource(client kubernetes.Interface, namespace string, bufferSize int) *EventSource {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &EventSource{
		client:     client,
		namespace:  namespace,
		bufferSize: bufferSize,
	}
}

// List performs a full event listing and returns its resourceVersion.
// Streaming from that token yields only events newer than the listing.
func (s *EventSource) List(ctx context.Context) (events.ResumeToken, error) {
	list, err := s.client.CoreV1().Events(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list events: %w", err)
	}
	if list.ResourceVersion == "" {
		return "", fmt.Errorf("event list in namespace %q returned no resourceVersion", s.namespace)
	}

	slog.Info("listed cluster events",
		"namespace", namespaceLabel(s.namespace),
		"existing_events", len(list.Items),
		"resource_version", list.ResourceVersion)

	return events.ResumeToken(list.ResourceVersion), nil
}

// Stream opens a watch positioned at the given token.
//
// The watch is a RetryWatcher: dropped connections are re-established from
// the last resourceVersion seen, so nothing is skipped or replayed. An Error
// event from the API server (410 Gone when the token has expired) ends the
// stream and is reported by Err.
func (s *EventSource) Stream(ctx context.Context, from events.ResumeToken) (events.Stream, error) {
	if from == "" {
		return nil, ErrEmptyResumeToken
	}

	lw := &cache.ListWatch{
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return s.client.CoreV1().Events(s.namespace).Watch(ctx, options)
		},
	}

	rw, err := watchtools.NewRetryWatcher(string(from), lw)
	if err != nil {
		return nil, fmt.Errorf("failed to start event watch at %q: %w", from, err)
	}

	slog.Info("watching cluster events",
		"namespace", namespaceLabel(s.namespace),
		"resource_version", string(from))

	st := &eventStream{
		watcher: rw,
		out:     make(chan events.ClusterEvent, s.bufferSize),
		stop:    make(chan struct{}),
	}
	go st.run(ctx)
	return st, nil
}

// eventStream translates watch events into ClusterEvents.
type eventStream struct {
	watcher *watchtools.RetryWatcher
	out     chan events.ClusterEvent

	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *eventStream) ResultChan() <-chan events.ClusterEvent {
	return s.out
}

func (s *eventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *eventStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *eventStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *eventStream) run(ctx context.Context) {
	defer close(s.out)
	defer s.watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case ev, ok := <-s.watcher.ResultChan():
			if !ok {
				s.setErr(errWatchClosed)
				return
			}

			switch ev.Type {
			case watch.Added, watch.Modified:
				kev, ok := ev.Object.(*corev1.Event)
				if !ok {
					slog.Warn("ignoring unexpected object on event watch",
						"type", fmt.Sprintf("%T", ev.Object))
					continue
				}
				select {
				case s.out <- events.FromKubeEvent(kev):
				case <-ctx.Done():
					return
				case <-s.stop:
					return
				}
			case watch.Error:
				err := apierrors.FromObject(ev.Object)
				slog.Error("event watch terminated by api server", "error", err)
				s.setErr(fmt.Errorf("event watch terminated: %w", err))
				return
			default:
				// Deleted and Bookmark carry nothing to alert on.
			}
		}
	}
}

func namespaceLabel(ns string) string {
	if ns == "" {
		return "<all>"
	}
	return ns
}
