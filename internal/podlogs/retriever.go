package podlogs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rbias/crashwatch/internal/events"
)

// Outcome is the result class of a single log attempt.
type Outcome string

const (
	OutcomeContent Outcome = "content"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
)

// Defaults used when NewRetriever is given non-positive values.
const (
	DefaultTailLines    = 50
	DefaultFetchTimeout = 10 * time.Second
)

// Attempt is the result of reading one container instance's log.
type Attempt struct {
	Outcome Outcome
	Content string
	Err     error
}

func classify(content string, err error) Attempt {
	switch {
	case err != nil:
		return Attempt{Outcome: OutcomeError, Err: err}
	case strings.TrimSpace(content) == "":
		return Attempt{Outcome: OutcomeEmpty}
	default:
		return Attempt{Outcome: OutcomeContent, Content: content}
	}
}

// Observer is notified of every attempt outcome. It is used for metrics.
type Observer func(previous bool, outcome Outcome)

// Retriever fetches a log excerpt with a fallback to the previous container instance.
type Retriever struct {
	source    Source
	tailLines int
	timeout   time.Duration
	observe   Observer
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithObserver registers a callback for attempt outcomes.
func WithObserver(o Observer) Option {
	return func(r *Retriever) { r.observe = o }
}

// NewRetriever creates a Retriever reading tailLines lines per attempt, each
// attempt bounded by timeout.
func NewRetriever(source Source, tailLines int, timeout time.Duration, opts ...Option) *Retriever {
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	r := &Retriever{
		source:    source,
		tailLines: tailLines,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns a log excerpt for the named object and whether one was found.
//
// Only pods have logs. The current instance is tried first; if that read
// fails or is empty, the previous instance is tried, which is where a
// crash-looping container's output usually lives. Finding nothing is a normal
// outcome and errors are logged, never returned.
func (r *Retriever) Fetch(ctx context.Context, kind, name, namespace string) (string, bool) {
	if kind != events.KindPod {
		return "", false
	}

	current := r.attempt(ctx, name, namespace, false)
	if current.Outcome == OutcomeContent {
		return current.Content, true
	}

	previous := r.attempt(ctx, name, namespace, true)
	if previous.Outcome == OutcomeContent {
		return previous.Content, true
	}

	slog.Debug("no logs available for pod",
		"pod", name,
		"namespace", namespace,
		"current", current.Outcome,
		"previous", previous.Outcome)
	return "", false
}

func (r *Retriever) attempt(ctx context.Context, name, namespace string, previous bool) Attempt {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		content string
		err     error
	)
	if previous {
		content, err = r.source.PreviousLog(attemptCtx, name, namespace, r.tailLines)
	} else {
		content, err = r.source.CurrentLog(attemptCtx, name, namespace, r.tailLines)
	}

	a := classify(content, err)
	if a.Outcome == OutcomeError {
		slog.Debug("log attempt failed",
			"pod", name,
			"namespace", namespace,
			"previous", previous,
			"error", a.Err)
	}
	if r.observe != nil {
		r.observe(previous, a.Outcome)
	}
	return a
}
