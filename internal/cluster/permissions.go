package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Permissions captures what the agent's identity may do in the watched namespace.
// It is computed once at startup and logged so RBAC gaps are visible before
// the first alert is missed.
//
// Expected RBAC on the target cluster:
//   - events: list, watch (required)
//   - pods/log: get (log excerpts; alerts are still sent without it)
type Permissions struct {
	Namespace   string    `json:"namespace"`
	ValidatedAt time.Time `json:"validated_at"`

	CanListEvents  bool `json:"can_list_events"`
	CanWatchEvents bool `json:"can_watch_events"`
	CanGetPods     bool `json:"can_get_pods"`
	CanGetLogs     bool `json:"can_get_logs"`

	Warnings []string `json:"warnings,omitempty"`
}

// MinimumPermissionsMet returns true if the event stream can be consumed.
func (p *Permissions) MinimumPermissionsMet() bool {
	return p.CanListEvents && p.CanWatchEvents
}

// ValidatePermissions asks the API server which of the agent's operations are
// allowed, using SelfSubjectAccessReview. A denied check is not an error; an
// API failure is.
func ValidatePermissions(ctx context.Context, client kubernetes.Interface, namespace string) (*Permissions, error) {
	perms := &Permissions{
		Namespace:   namespace,
		ValidatedAt: time.Now(),
	}

	checks := []struct {
		resource    string
		subresource string
		verb        string
		target      *bool
		warning     string
	}{
		{"events", "", "list", &perms.CanListEvents, "cannot list events"},
		{"events", "", "watch", &perms.CanWatchEvents, "cannot watch events"},
		{"pods", "", "get", &perms.CanGetPods, "cannot get pods"},
		{"pods", "log", "get", &perms.CanGetLogs, "cannot get pod logs (alerts will carry no log excerpt)"},
	}

	for _, check := range checks {
		review := &authorizationv1.SelfSubjectAccessReview{
			Spec: authorizationv1.SelfSubjectAccessReviewSpec{
				ResourceAttributes: &authorizationv1.ResourceAttributes{
					Namespace:   namespace,
					Verb:        check.verb,
					Resource:    check.resource,
					Subresource: check.subresource,
				},
			},
		}

		result, err := client.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
		if err != nil {
			return nil, fmt.Errorf("access review for %s %s failed: %w", check.verb, resourceName(check.resource, check.subresource), err)
		}

		*check.target = result.Status.Allowed
		if !result.Status.Allowed {
			perms.Warnings = append(perms.Warnings, check.warning)
		}
		slog.Debug("permission check",
			"verb", check.verb,
			"resource", resourceName(check.resource, check.subresource),
			"allowed", result.Status.Allowed)
	}

	if len(perms.Warnings) > 0 {
		slog.Warn("agent has permission warnings",
			"namespace", namespaceLabel(namespace),
			"warnings", strings.Join(perms.Warnings, "; "))
	}

	if !perms.MinimumPermissionsMet() {
		slog.Error("agent does not meet minimum permissions to watch events",
			"namespace", namespaceLabel(namespace))
	} else {
		slog.Info("cluster permissions validated",
			"namespace", namespaceLabel(namespace),
			"events", true,
			"logs", perms.CanGetLogs)
	}

	return perms, nil
}

func resourceName(resource, subresource string) string {
	if subresource == "" {
		return resource
	}
	return resource + "/" + subresource
}
