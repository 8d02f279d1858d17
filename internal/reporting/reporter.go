package reporting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbias/crashwatch/internal/analysis"
	"github.com/rbias/crashwatch/internal/config"
)

// Reporter is the output boundary: every alert the pipeline produces ends here.
type Reporter struct {
	slack      *SlackNotifier
	breaker    *CircuitBreaker
	excerptLen int
	logger     *slog.Logger
}

// NewReporter creates a Reporter. slack may be nil or unconfigured, in which
// case alerts are only logged.
func NewReporter(slack *SlackNotifier, breaker *CircuitBreaker, tuning *config.TuningConfig) *Reporter {
	return &Reporter{
		slack:      slack,
		breaker:    breaker,
		excerptLen: tuning.Logs.ExcerptDisplayLength,
		logger:     slog.Default().With("component", "reporter"),
	}
}

// Deliver logs the alert, updates the analysis health tracking and posts to
// Slack when a webhook is configured. Only the Slack post can fail.
func (r *Reporter) Deliver(ctx context.Context, a *Alert) error {
	fc := a.Context
	attrs := []any{
		"alert_id", a.ID,
		"namespace", fc.Namespace,
		"object", fmt.Sprintf("%s/%s", fc.ObjectKind, fc.ObjectName),
		"reason", fc.Reason,
		"message", fc.Message,
		"path", a.Path(),
	}
	if fc.HasLogs {
		attrs = append(attrs, "log_excerpt", TruncateExcerpt(fc.LogExcerpt, r.excerptLen))
	}
	r.logger.Warn("cluster warning", attrs...)

	switch a.Path() {
	case PathAnalyzed:
		r.logger.Info("analysis", "alert_id", a.ID, "text", a.Analysis)
	case PathAnalysisFailed:
		r.logger.Warn("analysis failed",
			"alert_id", a.ID,
			"kind", analysis.KindOf(a.AnalysisErr),
			"error", a.AnalysisErr)
	}

	if a.Analyzed && r.breaker != nil {
		r.trackAnalysisHealth(ctx, a)
	}

	if !r.slack.Enabled() {
		return nil
	}
	if err := r.slack.SendAlert(ctx, a); err != nil {
		return fmt.Errorf("deliver alert %s: %w", a.ID, err)
	}
	r.logger.Debug("alert sent to slack", "alert_id", a.ID)
	return nil
}

func (r *Reporter) trackAnalysisHealth(ctx context.Context, a *Alert) {
	if a.AnalysisErr != nil {
		if !r.breaker.RecordFailure(failureReason(a.AnalysisErr)) {
			r.logger.Debug("circuit breaker: recorded failure", "state", r.breaker.State())
			return
		}
		stats := r.breaker.Stats()
		r.logger.Warn("circuit breaker threshold reached, analysis degraded",
			"failure_count", stats.Count,
			"duration", stats.Duration,
			"recent_reasons", stats.RecentReasons)
		if err := r.slack.SendSystemDegradedAlert(ctx, stats); err != nil {
			r.logger.Error("failed to send analysis degraded alert", "error", err)
		}
		return
	}

	recovered, stats := r.breaker.RecordSuccess()
	if !recovered {
		return
	}
	r.logger.Info("analysis recovered",
		"failure_count", stats.Count,
		"downtime", stats.Duration)
	if err := r.slack.SendSystemRecoveredAlert(ctx, stats); err != nil {
		r.logger.Error("failed to send analysis recovered alert", "error", err)
	}
}
