package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rbias/crashwatch/internal/analysis"
	"github.com/rbias/crashwatch/internal/config"
)

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL                 string
	httpClient                 *http.Client
	rootCauseTruncationLength  int
	failureReasonsDisplayCount int
	excerptDisplayLength       int
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Blocks      []SlackBlock      `json:"blocks,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackBlock represents a Slack block element
type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

// SlackText represents text content in Slack
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string `json:"color"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
}

// NewSlackNotifier creates a notifier. An empty webhook URL turns every send into a no-op.
func NewSlackNotifier(webhookURL string, tuning *config.TuningConfig) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: time.Duration(tuning.HTTP.SlackTimeoutSeconds) * time.Second,
		},
		rootCauseTruncationLength:  tuning.Reporting.RootCauseTruncationLength,
		failureReasonsDisplayCount: tuning.Reporting.FailureReasonsDisplayCount,
		excerptDisplayLength:       tuning.Logs.ExcerptDisplayLength,
	}
}

// Enabled reports whether a webhook is configured.
func (s *SlackNotifier) Enabled() bool {
	return s != nil && s.WebhookURL != ""
}

// TruncateRootCause shortens text to the configured root cause length.
func (s *SlackNotifier) TruncateRootCause(text string) string {
	return truncate(text, s.rootCauseTruncationLength)
}

// SendAlert posts a single cluster warning, with its analysis summary when there is one.
func (s *SlackNotifier) SendAlert(ctx context.Context, a *Alert) error {
	if !s.Enabled() {
		return nil
	}

	fc := a.Context
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: fmt.Sprintf("Kubernetes Warning: %s", fc.Reason)},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Namespace:*\n%s", fc.Namespace)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Object:*\n%s/%s", strings.ToLower(fc.ObjectKind), fc.ObjectName)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Reason:*\n%s", fc.Reason)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Detected:*\n%s", a.DetectedAt.UTC().Format(time.RFC3339))},
			},
		},
		{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*Message:*\n%s", fc.Message)},
		},
	}

	var color string
	switch a.Path() {
	case PathAnalyzed:
		color = "danger"
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Root Cause:*\n%s", s.TruncateRootCause(ExtractRootCause(a.Analysis, 0))),
			},
		})
	case PathAnalysisFailed:
		color = "warning"
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Analysis unavailable (%s):*\n%s", analysis.KindOf(a.AnalysisErr), failureReason(a.AnalysisErr)),
			},
		})
	default:
		color = "#808080"
		note := "No container logs could be retrieved; analysis skipped."
		if !fc.IsPod() {
			note = "Not a pod; analysis skipped."
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: note},
		})
	}

	if fc.HasLogs && s.excerptDisplayLength > 0 {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Recent logs:*\n```%s```", TruncateExcerpt(fc.LogExcerpt, s.excerptDisplayLength)),
			},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("Alert ID: `%s`", a.ID)},
		},
	})

	return s.send(ctx, SlackMessage{
		Text:        fmt.Sprintf("%s on %s/%s", fc.Reason, fc.Namespace, fc.ObjectName),
		Blocks:      blocks,
		Attachments: []SlackAttachment{{Color: color}},
	})
}

// SendSystemDegradedAlert reports that analysis has failed repeatedly.
func (s *SlackNotifier) SendSystemDegradedAlert(ctx context.Context, stats FailureStats) error {
	if !s.Enabled() {
		return nil
	}

	timeWindow := "N/A"
	if stats.Duration > 0 {
		timeWindow = stats.Duration.Round(time.Second).String()
	}

	sample := stats.RecentReasons
	if n := s.failureReasonsDisplayCount; n > 0 && len(sample) > n {
		sample = sample[len(sample)-n:]
	}
	reasonsText := "No failure details available"
	if len(sample) > 0 {
		lines := make([]string, 0, len(sample))
		for _, reason := range sample {
			lines = append(lines, "• "+reason)
		}
		reasonsText = strings.Join(lines, "\n")
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: "AI Analysis Degraded"},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Failure Count:*\n%d", stats.Count)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Time Window:*\n%s", timeWindow)},
			},
		},
		{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Recent Failure Reasons (last %d):*\n%s", len(sample), reasonsText),
			},
		},
		{
			Type: "context",
			Elements: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("First failure: %s | Last failure: %s",
					stats.FirstFailureTime.Format("15:04:05"),
					stats.LastFailureTime.Format("15:04:05"))},
			},
		},
	}

	return s.send(ctx, SlackMessage{
		Text:   "AI analysis degraded",
		Blocks: blocks,
		Attachments: []SlackAttachment{{
			Color:  "warning",
			Footer: "Alerts are still delivered without analysis.",
		}},
	})
}

// SendSystemRecoveredAlert reports that analysis succeeded again after a degraded notice.
func (s *SlackNotifier) SendSystemRecoveredAlert(ctx context.Context, stats FailureStats) error {
	if !s.Enabled() {
		return nil
	}

	downtime := "N/A"
	if stats.Duration > 0 {
		downtime = stats.Duration.Round(time.Second).String()
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: "AI Analysis Recovered"},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Total Downtime:*\n%s", downtime)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Total Failures:*\n%d", stats.Count)},
			},
		},
	}

	return s.send(ctx, SlackMessage{
		Text:        "AI analysis recovered",
		Blocks:      blocks,
		Attachments: []SlackAttachment{{Color: "good"}},
	})
}

func (s *SlackNotifier) send(ctx context.Context, msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func failureReason(err error) string {
	var ae *analysis.Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return err.Error()
}
