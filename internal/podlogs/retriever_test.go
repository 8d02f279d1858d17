package podlogs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// stubSource returns canned results and records which instances were read.
type stubSource struct {
	current    string
	currentErr error
	prev       string
	prevErr    error
	block      bool

	mu    sync.Mutex
	calls []string
}

func (s *stubSource) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubSource) CurrentLog(ctx context.Context, name, namespace string, tailLines int) (string, error) {
	s.record("current")
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.current, s.currentErr
}

func (s *stubSource) PreviousLog(ctx context.Context, name, namespace string, tailLines int) (string, error) {
	s.record("previous")
	return s.prev, s.prevErr
}

func TestRetriever_Fetch(t *testing.T) {
	errUnavailable := errors.New("container not found")

	tests := []struct {
		name      string
		source    *stubSource
		kind      string
		want      string
		wantFound bool
		wantCalls []string
	}{
		{
			name:      "current log has content",
			source:    &stubSource{current: "panic: boom", prev: "older"},
			kind:      "Pod",
			want:      "panic: boom",
			wantFound: true,
			wantCalls: []string{"current"},
		},
		{
			name:      "current empty falls back to previous",
			source:    &stubSource{current: "", prev: "panic: nil pointer"},
			kind:      "Pod",
			want:      "panic: nil pointer",
			wantFound: true,
			wantCalls: []string{"current", "previous"},
		},
		{
			name:      "current whitespace only falls back to previous",
			source:    &stubSource{current: " \n", prev: "oom"},
			kind:      "Pod",
			want:      "oom",
			wantFound: true,
			wantCalls: []string{"current", "previous"},
		},
		{
			name:      "current error falls back to previous",
			source:    &stubSource{currentErr: errUnavailable, prev: "exit 1"},
			kind:      "Pod",
			want:      "exit 1",
			wantFound: true,
			wantCalls: []string{"current", "previous"},
		},
		{
			name:      "both empty",
			source:    &stubSource{},
			kind:      "Pod",
			wantCalls: []string{"current", "previous"},
		},
		{
			name:      "both error",
			source:    &stubSource{currentErr: errUnavailable, prevErr: errUnavailable},
			kind:      "Pod",
			wantCalls: []string{"current", "previous"},
		},
		{
			name:   "non-pod objects have no logs",
			source: &stubSource{current: "never read"},
			kind:   "Node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(tt.source, 50, time.Second)

			got, found := r.Fetch(context.Background(), tt.kind, "web-7f", "prod")

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantCalls, tt.source.calls)
		})
	}
}

func TestRetriever_AttemptTimeoutIsAnError(t *testing.T) {
	src := &stubSource{block: true, prev: "from previous instance"}
	var outcomes []Outcome
	r := NewRetriever(src, 50, 20*time.Millisecond, WithObserver(func(previous bool, o Outcome) {
		outcomes = append(outcomes, o)
	}))

	got, found := r.Fetch(context.Background(), "Pod", "web-7f", "prod")

	assert.True(t, found)
	assert.Equal(t, "from previous instance", got)
	assert.Equal(t, []Outcome{OutcomeError, OutcomeContent}, outcomes)
}

func TestNewRetriever_Defaults(t *testing.T) {
	src := &stubSource{current: "panic: boom"}
	r := NewRetriever(src, 0, 0)

	assert.Equal(t, DefaultTailLines, r.tailLines)
	assert.Equal(t, DefaultFetchTimeout, r.timeout)

	got, found := r.Fetch(context.Background(), "Pod", "web-7f", "prod")
	assert.True(t, found)
	assert.Equal(t, "panic: boom", got)
}

func TestKubeSource_RequestsTailAndPrevious(t *testing.T) {
	client := fake.NewSimpleClientset()
	src := NewKubeSource(client)

	current, err := src.CurrentLog(context.Background(), "web-7f", "prod", 50)
	require.NoError(t, err)
	assert.Equal(t, "fake logs", current)

	_, err = src.PreviousLog(context.Background(), "web-7f", "prod", 50)
	require.NoError(t, err)

	var opts []*corev1.PodLogOptions
	for _, action := range client.Actions() {
		if action.GetSubresource() != "log" {
			continue
		}
		generic, ok := action.(k8stesting.GenericAction)
		require.True(t, ok)
		opts = append(opts, generic.GetValue().(*corev1.PodLogOptions))
		assert.Equal(t, "prod", action.GetNamespace())
	}

	require.Len(t, opts, 2)
	require.NotNil(t, opts[0].TailLines)
	assert.Equal(t, int64(50), *opts[0].TailLines)
	assert.False(t, opts[0].Previous)
	assert.True(t, opts[1].Previous)
}

func TestRetriever_WithKubeSource(t *testing.T) {
	r := NewRetriever(NewKubeSource(fake.NewSimpleClientset()), 50, time.Second)

	got, found := r.Fetch(context.Background(), "Pod", "web-7f", "prod")
	assert.True(t, found)
	assert.Equal(t, "fake logs", got)
}
