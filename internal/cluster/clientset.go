// Package cluster adapts the Kubernetes API to the interfaces used by the
// alert pipeline: the event source, the pod log source and access checks.
package cluster

import (
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientset builds a Kubernetes clientset.
//
// In-cluster service account credentials are tried first. When the agent is
// not running inside a pod, the kubeconfig at the given path is used; an
// empty path falls back to the default loading rules ($KUBECONFIG, then
// ~/.kube/config).
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	switch {
	case err == nil:
		slog.Info("using in-cluster kubernetes configuration")
	case errors.Is(err, rest.ErrNotInCluster):
		restConfig, err = loadKubeconfig(kubeconfig)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return clientset, nil
}

func loadKubeconfig(path string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules,
		&clientcmd.ConfigOverrides{},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	slog.Info("using kubeconfig", "path", rules.GetDefaultFilename())
	return restConfig, nil
}
