// Package podlogs retrieves diagnostic log excerpts for failing pods.
package podlogs

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
)

// Source reads the tail of a pod's log.
// CurrentLog reads the running container instance; PreviousLog reads the
// instance that ran before the last restart.
type Source interface {
	CurrentLog(ctx context.Context, name, namespace string, tailLines int) (string, error)
	PreviousLog(ctx context.Context, name, namespace string, tailLines int) (string, error)
}

// KubeSource reads pod logs through the Kubernetes API.
type KubeSource struct {
	client kubernetes.Interface
}

// NewKubeSource creates a Source backed by the given clientset.
func NewKubeSource(client kubernetes.Interface) *KubeSource {
	return &KubeSource{client: client}
}

func (s *KubeSource) CurrentLog(ctx context.Context, name, namespace string, tailLines int) (string, error) {
	return s.read(ctx, name, namespace, tailLines, false)
}

func (s *KubeSource) PreviousLog(ctx context.Context, name, namespace string, tailLines int) (string, error) {
	return s.read(ctx, name, namespace, tailLines, true)
}

func (s *KubeSource) read(ctx context.Context, name, namespace string, tailLines int, previous bool) (string, error) {
	tail := int64(tailLines)
	req := s.client.CoreV1().Pods(namespace).GetLogs(name, &corev1.PodLogOptions{
		TailLines: &tail,
		Previous:  previous,
	})

	raw, err := req.DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read logs for pod %s/%s (previous=%t): %w", namespace, name, previous, err)
	}
	return string(raw), nil
}
