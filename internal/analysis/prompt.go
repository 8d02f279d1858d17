// Package analysis asks an OpenAI-compatible language model for the root cause
// of a failing workload.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/rbias/crashwatch/internal/events"
)

// Analyzer produces a free-text root-cause analysis for a failure.
// Failures are returned as *Error.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// Request is the failure context sent for analysis.
type Request struct {
	ObjectName string
	Reason     string
	Message    string
	LogExcerpt string
}

// RequestFrom builds a Request from a failure context with logs attached.
func RequestFrom(fc events.FailureContext) Request {
	return Request{
		ObjectName: fc.ObjectName,
		Reason:     fc.Reason,
		Message:    fc.Message,
		LogExcerpt: fc.LogExcerpt,
	}
}

const systemPrompt = `You are a Kubernetes site reliability engineer. You are given a warning event and the recent log output of the failing pod. Be concise and specific. Answer in Markdown with exactly two sections: "## Root Cause" and "## Remediation".`

var promptTemplate = template.Must(template.New("prompt").Parse(`A Kubernetes pod is failing.

Pod: {{.ObjectName}}
Reason: {{.Reason}}
Message: {{.Message}}

Recent logs:
{{.LogExcerpt}}

What is the most likely root cause, and how should it be fixed?
`))

// RenderPrompt renders the user prompt for req.
func RenderPrompt(req Request) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, req); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}
