// Package events defines the cluster event data model and the warning classifier.
package events

import (
	corev1 "k8s.io/api/core/v1"
)

// EventType mirrors the Kubernetes event type field.
type EventType string

const (
	// TypeNormal marks routine lifecycle events.
	TypeNormal EventType = EventType(corev1.EventTypeNormal)
	// TypeWarning marks events reporting an abnormal condition.
	TypeWarning EventType = EventType(corev1.EventTypeWarning)
)

// KindPod is the involved object kind for which logs can be retrieved.
const KindPod = "Pod"

// ResumeToken marks a position in the cluster event history.
// For Kubernetes it is the resourceVersion returned by a list call.
type ResumeToken string

// ClusterEvent is a single item read from the cluster event stream.
type ClusterEvent struct {
	Type                    EventType `json:"type"`
	InvolvedObjectKind      string    `json:"involved_object_kind"`
	InvolvedObjectName      string    `json:"involved_object_name"`
	InvolvedObjectNamespace string    `json:"involved_object_namespace"`
	Reason                  string    `json:"reason"`
	Message                 string    `json:"message"`
}

// FromKubeEvent flattens a corev1.Event into a ClusterEvent.
func FromKubeEvent(ev *corev1.Event) ClusterEvent {
	return ClusterEvent{
		Type:                    EventType(ev.Type),
		InvolvedObjectKind:      ev.InvolvedObject.Kind,
		InvolvedObjectName:      ev.InvolvedObject.Name,
		InvolvedObjectNamespace: ev.InvolvedObject.Namespace,
		Reason:                  ev.Reason,
		Message:                 ev.Message,
	}
}

// FailureContext carries everything known about a failing object.
// It is created for each alert-worthy event and dropped once the alert is delivered.
type FailureContext struct {
	ObjectKind string `json:"object_kind"`
	ObjectName string `json:"object_name"`
	Namespace  string `json:"namespace"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`

	// LogExcerpt is only meaningful when HasLogs is true.
	LogExcerpt string `json:"log_excerpt,omitempty"`
	HasLogs    bool   `json:"has_logs"`
}

// DedupKey returns the key used to suppress repeated alerts for the same workload.
func (f FailureContext) DedupKey() string {
	return f.ObjectName
}

// IsPod reports whether logs can be fetched for the involved object.
func (f FailureContext) IsPod() bool {
	return f.ObjectKind == KindPod
}

// WithLogs returns a copy of f carrying the given log excerpt.
func (f FailureContext) WithLogs(excerpt string) FailureContext {
	f.LogExcerpt = excerpt
	f.HasLogs = excerpt != ""
	return f
}
