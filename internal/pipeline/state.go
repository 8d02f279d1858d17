package pipeline

import (
	"time"

	"github.com/rbias/crashwatch/internal/events"
)

// State is the pipeline's position in its processing cycle.
type State string

const (
	// StateInitializing means the resume token is being captured and the cache checked.
	StateInitializing State = "initializing"

	// StateStreaming means the pipeline is waiting for the next event.
	StateStreaming State = "streaming"

	// StateClassifying means an event is being checked for alert-worthiness.
	StateClassifying State = "classifying"

	// StateDeduped means the last warning was suppressed by the dedup cache.
	StateDeduped State = "deduped"

	// StateLogFetching means pod logs are being retrieved.
	StateLogFetching State = "log_fetching"

	// StateAnalyzing means the failure is with the AI collaborator.
	StateAnalyzing State = "analyzing"

	// StateDelivering means the alert is being handed to the output boundary.
	StateDelivering State = "delivering"

	// StateTerminated means the pipeline has stopped and will not process more events.
	StateTerminated State = "terminated"
)

// Status is a point-in-time view of a pipeline for health reporting.
type Status struct {
	State        State              `json:"state"`
	ResumeToken  events.ResumeToken `json:"resume_token,omitempty"`
	EventsSeen   int64              `json:"events_seen"`
	WarningsSeen int64              `json:"warnings_seen"`
	Suppressed   int64              `json:"suppressed"`
	Alerts       int64              `json:"alerts"`
	LastEvent    *time.Time         `json:"last_event,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	Restarts     int                `json:"restarts"`
}

// Healthy reports whether the pipeline is consuming its event stream.
func (s Status) Healthy() bool {
	return s.State != StateInitializing && s.State != StateTerminated
}
