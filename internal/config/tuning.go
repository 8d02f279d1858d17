package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// TuningConfig holds tunable operational parameters that control system behavior.
// These parameters can be adjusted without changing core application configuration.
type TuningConfig struct {
	HTTP       HTTPTuning       `mapstructure:"http"`
	Events     EventsTuning     `mapstructure:"events"`
	Logs       LogsTuning       `mapstructure:"logs"`
	Analysis   AnalysisTuning   `mapstructure:"analysis"`
	Reporting  ReportingTuning  `mapstructure:"reporting"`
	Supervisor SupervisorTuning `mapstructure:"supervisor"`
}

// HTTPTuning contains HTTP client tuning parameters.
type HTTPTuning struct {
	// SlackTimeoutSeconds is the timeout for Slack webhook HTTP requests.
	SlackTimeoutSeconds int `mapstructure:"slack_timeout_seconds"`
}

// EventsTuning contains event stream tuning parameters.
type EventsTuning struct {
	// ChannelBufferSize is the buffer between the cluster watch and the pipeline.
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`
}

// LogsTuning contains pod log retrieval parameters.
type LogsTuning struct {
	// TailLines is the number of trailing log lines requested per attempt.
	TailLines int `mapstructure:"tail_lines"`

	// FetchTimeoutSeconds bounds each individual log attempt.
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`

	// ExcerptDisplayLength is the maximum number of log characters written to the console log.
	ExcerptDisplayLength int `mapstructure:"excerpt_display_length"`
}

// AnalysisTuning contains AI analysis call parameters.
type AnalysisTuning struct {
	// TimeoutSeconds bounds a single analysis round-trip, fallbacks included.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// MaxTokens caps the completion length.
	MaxTokens int `mapstructure:"max_tokens"`

	// RequestsPerMinute throttles calls to the completion API.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// ReportingTuning contains reporting and notification tuning parameters.
type ReportingTuning struct {
	// RootCauseTruncationLength is the maximum length of root cause text in Slack notifications.
	RootCauseTruncationLength int `mapstructure:"root_cause_truncation_length"`

	// FailureReasonsDisplayCount is the number of failure reasons to display in degraded alerts.
	FailureReasonsDisplayCount int `mapstructure:"failure_reasons_display_count"`

	// MaxFailureReasonsTracked is the maximum number of failure reasons to track internally.
	MaxFailureReasonsTracked int `mapstructure:"max_failure_reasons_tracked"`
}

// SupervisorTuning controls how a terminated pipeline is restarted.
type SupervisorTuning struct {
	InitialBackoffSeconds int `mapstructure:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `mapstructure:"max_backoff_seconds"`
}

// LogFetchTimeout returns the per-attempt log fetch timeout.
func (t *TuningConfig) LogFetchTimeout() time.Duration {
	return time.Duration(t.Logs.FetchTimeoutSeconds) * time.Second
}

// AnalysisTimeout returns the per-call analysis timeout.
func (t *TuningConfig) AnalysisTimeout() time.Duration {
	return time.Duration(t.Analysis.TimeoutSeconds) * time.Second
}

// defaultTuning returns a TuningConfig with sensible defaults.
// These defaults are used when tuning.yaml is not found or values are missing.
func defaultTuning() *TuningConfig {
	return &TuningConfig{
		HTTP: HTTPTuning{
			SlackTimeoutSeconds: 10,
		},
		Events: EventsTuning{
			ChannelBufferSize: 100,
		},
		Logs: LogsTuning{
			TailLines:            50,
			FetchTimeoutSeconds:  10,
			ExcerptDisplayLength: 300,
		},
		Analysis: AnalysisTuning{
			TimeoutSeconds:    60,
			MaxTokens:         1024,
			RequestsPerMinute: 30,
		},
		Reporting: ReportingTuning{
			RootCauseTruncationLength:  300,
			FailureReasonsDisplayCount: 3,
			MaxFailureReasonsTracked:   5,
		},
		Supervisor: SupervisorTuning{
			InitialBackoffSeconds: 1,
			MaxBackoffSeconds:     60,
		},
	}
}

// DefaultTuning returns the built-in tuning values.
func DefaultTuning() *TuningConfig {
	return defaultTuning()
}

// LoadTuning loads tuning configuration from tuning.yaml.
// If the file is not found, it returns a TuningConfig with default values.
func LoadTuning() (*TuningConfig, error) {
	return LoadTuningWithFile("")
}

// LoadTuningWithFile loads tuning configuration from a specific file path.
// If tuningFile is empty, it searches for tuning.yaml in standard locations.
// If the file is not found, it returns a TuningConfig with default values.
// A separate viper instance is used so the main configuration is untouched.
func LoadTuningWithFile(tuningFile string) (*TuningConfig, error) {
	v := viper.New()

	defaults := defaultTuning()
	v.SetDefault("http.slack_timeout_seconds", defaults.HTTP.SlackTimeoutSeconds)
	v.SetDefault("events.channel_buffer_size", defaults.Events.ChannelBufferSize)
	v.SetDefault("logs.tail_lines", defaults.Logs.TailLines)
	v.SetDefault("logs.fetch_timeout_seconds", defaults.Logs.FetchTimeoutSeconds)
	v.SetDefault("logs.excerpt_display_length", defaults.Logs.ExcerptDisplayLength)
	v.SetDefault("analysis.timeout_seconds", defaults.Analysis.TimeoutSeconds)
	v.SetDefault("analysis.max_tokens", defaults.Analysis.MaxTokens)
	v.SetDefault("analysis.requests_per_minute", defaults.Analysis.RequestsPerMinute)
	v.SetDefault("reporting.root_cause_truncation_length", defaults.Reporting.RootCauseTruncationLength)
	v.SetDefault("reporting.failure_reasons_display_count", defaults.Reporting.FailureReasonsDisplayCount)
	v.SetDefault("reporting.max_failure_reasons_tracked", defaults.Reporting.MaxFailureReasonsTracked)
	v.SetDefault("supervisor.initial_backoff_seconds", defaults.Supervisor.InitialBackoffSeconds)
	v.SetDefault("supervisor.max_backoff_seconds", defaults.Supervisor.MaxBackoffSeconds)

	if tuningFile != "" {
		v.SetConfigFile(tuningFile)
	} else {
		v.SetConfigName("tuning")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/crashwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		if _, ok := err.(*os.PathError); ok {
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to read tuning config: %w", err)
	}

	var tuning TuningConfig
	if err := v.Unmarshal(&tuning); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tuning config: %w", err)
	}

	if err := tuning.Validate(); err != nil {
		return nil, err
	}

	return &tuning, nil
}

// Validate checks tuning parameters for valid ranges.
func (t *TuningConfig) Validate() error {
	if t.HTTP.SlackTimeoutSeconds < 1 {
		return fmt.Errorf("http.slack_timeout_seconds must be >= 1, got %d", t.HTTP.SlackTimeoutSeconds)
	}

	if t.Events.ChannelBufferSize < 1 {
		return fmt.Errorf("events.channel_buffer_size must be >= 1, got %d", t.Events.ChannelBufferSize)
	}

	if t.Logs.TailLines < 1 {
		return fmt.Errorf("logs.tail_lines must be >= 1, got %d", t.Logs.TailLines)
	}
	if t.Logs.FetchTimeoutSeconds < 1 {
		return fmt.Errorf("logs.fetch_timeout_seconds must be >= 1, got %d", t.Logs.FetchTimeoutSeconds)
	}
	if t.Logs.ExcerptDisplayLength < 1 {
		return fmt.Errorf("logs.excerpt_display_length must be >= 1, got %d", t.Logs.ExcerptDisplayLength)
	}

	if t.Analysis.TimeoutSeconds < 1 {
		return fmt.Errorf("analysis.timeout_seconds must be >= 1, got %d", t.Analysis.TimeoutSeconds)
	}
	if t.Analysis.MaxTokens < 1 {
		return fmt.Errorf("analysis.max_tokens must be >= 1, got %d", t.Analysis.MaxTokens)
	}
	if t.Analysis.RequestsPerMinute < 1 {
		return fmt.Errorf("analysis.requests_per_minute must be >= 1, got %d", t.Analysis.RequestsPerMinute)
	}

	if t.Reporting.RootCauseTruncationLength < 4 {
		return fmt.Errorf("reporting.root_cause_truncation_length must be >= 4, got %d", t.Reporting.RootCauseTruncationLength)
	}
	if t.Reporting.FailureReasonsDisplayCount < 1 {
		return fmt.Errorf("reporting.failure_reasons_display_count must be >= 1, got %d", t.Reporting.FailureReasonsDisplayCount)
	}
	if t.Reporting.MaxFailureReasonsTracked < t.Reporting.FailureReasonsDisplayCount {
		return fmt.Errorf("reporting.max_failure_reasons_tracked (%d) must be >= failure_reasons_display_count (%d)",
			t.Reporting.MaxFailureReasonsTracked, t.Reporting.FailureReasonsDisplayCount)
	}

	if t.Supervisor.InitialBackoffSeconds < 1 {
		return fmt.Errorf("supervisor.initial_backoff_seconds must be >= 1, got %d", t.Supervisor.InitialBackoffSeconds)
	}
	if t.Supervisor.MaxBackoffSeconds < t.Supervisor.InitialBackoffSeconds {
		return fmt.Errorf("supervisor.max_backoff_seconds (%d) must be >= initial_backoff_seconds (%d)",
			t.Supervisor.MaxBackoffSeconds, t.Supervisor.InitialBackoffSeconds)
	}

	return nil
}
