package reporting

import (
	"time"

	"github.com/google/uuid"

	"github.com/rbias/crashwatch/internal/events"
)

// Delivery paths, used in logs and metrics.
const (
	PathAnalyzed       = "analyzed"
	PathAnalysisFailed = "analysis_failed"
	PathBare           = "bare"
)

// Alert is what the pipeline hands to the output boundary for one failure.
type Alert struct {
	ID         string
	DetectedAt time.Time
	Context    events.FailureContext

	// Analyzed is true when analysis was attempted. Exactly one of Analysis
	// and AnalysisErr is then set.
	Analyzed    bool
	Analysis    string
	AnalysisErr error
}

// NewAlert creates an alert for fc with a fresh ID.
func NewAlert(fc events.FailureContext) *Alert {
	return &Alert{
		ID:         uuid.New().String(),
		DetectedAt: time.Now(),
		Context:    fc,
	}
}

// Path reports how far the alert got through analysis.
func (a *Alert) Path() string {
	switch {
	case !a.Analyzed:
		return PathBare
	case a.AnalysisErr != nil:
		return PathAnalysisFailed
	default:
		return PathAnalyzed
	}
}

// TruncateExcerpt shortens s to at most n characters followed by "...".
func TruncateExcerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// truncate shortens s so that it fits in maxLen characters including the "..." suffix.
// A maxLen too small to hold the suffix leaves s unchanged.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 3 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
