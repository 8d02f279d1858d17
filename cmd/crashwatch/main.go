package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rbias/crashwatch/internal/analysis"
	"github.com/rbias/crashwatch/internal/cluster"
	"github.com/rbias/crashwatch/internal/config"
	"github.com/rbias/crashwatch/internal/dedup"
	"github.com/rbias/crashwatch/internal/health"
	"github.com/rbias/crashwatch/internal/pipeline"
	"github.com/rbias/crashwatch/internal/podlogs"
	"github.com/rbias/crashwatch/internal/reporting"
)

var (
	// Version information (set via ldflags at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Command-line flags
	configFile   string
	tuningFile   string
	kubeconfig   string
	namespace    string
	logLevel     string
	dedupBackend string
	healthPort   int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "crashwatch",
	Short:        "crashwatch - Kubernetes warning alerts with AI root-cause analysis",
	Long:         "Watches cluster events, deduplicates warnings, pulls logs from failing pods and asks a language model what went wrong",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: searches for config.yaml in ., ./configs, /etc/crashwatch)")
	rootCmd.Flags().StringVar(&tuningFile, "tuning", "", "Path to tuning file (default: searches for tuning.yaml next to the config file)")

	// Override flags (take precedence over config file and env vars)
	rootCmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: in-cluster config, then ~/.kube/config)")
	rootCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to watch (default: all namespaces)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&dedupBackend, "dedup-backend", "", "Dedup cache backend: redis, badger, sqlite, postgres")
	rootCmd.Flags().IntVar(&healthPort, "health-port", 8080, "Port for health and metrics HTTP endpoint (0 to disable)")

	config.BindFlags(rootCmd.Flags())
}

func run(cmd *cobra.Command, args []string) error {
	if versionFlag, _ := cmd.Flags().GetBool("version"); versionFlag {
		fmt.Printf("crashwatch version %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		return nil
	}

	cfg, err := config.LoadWithConfigFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tuning, err := config.LoadTuningWithFile(tuningFile)
	if err != nil {
		return fmt.Errorf("failed to load tuning configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)
	gin.SetMode(ginMode(cfg.LogLevel))
	printStartupBanner(cfg, config.GetConfigFile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	clientset, err := cluster.NewClientset(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()
	perms, err := cluster.ValidatePermissions(initCtx, clientset, cfg.Namespace)
	if err != nil {
		return fmt.Errorf("failed to validate cluster permissions: %w", err)
	}
	if !perms.MinimumPermissionsMet() {
		return fmt.Errorf("insufficient permissions to list and watch events: %s", strings.Join(perms.Warnings, "; "))
	}

	cache, err := dedup.New(initCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open dedup cache: %w", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("failed to close dedup cache", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(reg)

	source := cluster.NewEventSource(clientset, cfg.Namespace, tuning.Events.ChannelBufferSize)
	logs := podlogs.NewRetriever(
		podlogs.NewKubeSource(clientset),
		tuning.Logs.TailLines,
		tuning.LogFetchTimeout(),
		podlogs.WithObserver(metrics.ObserveLogAttempt),
	)
	analyzer := analysis.NewOpenAIAnalyzer(analysis.OpenAIConfig{
		Endpoints:         aiEndpoints(cfg),
		MaxTokens:         tuning.Analysis.MaxTokens,
		Timeout:           tuning.AnalysisTimeout(),
		RequestsPerMinute: tuning.Analysis.RequestsPerMinute,
	})

	slack := reporting.NewSlackNotifier(cfg.SlackWebhookURL, tuning)
	if slack.Enabled() {
		slog.Info("slack notifications enabled")
	}
	breaker := reporting.NewCircuitBreaker(cfg.FailureThresholdForAlert, tuning)
	reporter := reporting.NewReporter(slack, breaker, tuning)

	newPipeline := func() *pipeline.Pipeline {
		return pipeline.New(pipeline.Deps{
			Source:   source,
			Cache:    cache,
			Logs:     logs,
			Analyzer: analyzer,
			Sink:     reporter,
			Metrics:  metrics,
		}, pipeline.Options{
			DedupWindow: time.Duration(cfg.DedupWindowSeconds) * time.Second,
		})
	}
	supervisor := pipeline.NewSupervisor(newPipeline, pipeline.BackoffFromTuning(tuning.Supervisor), metrics)

	if cfg.HealthPort > 0 {
		healthServer := health.NewServer(supervisor, reg, cfg.HealthPort)
		go func() {
			if err := healthServer.Start(); err != nil {
				slog.Error("health server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = healthServer.Shutdown(shutdownCtx)
		}()
	} else {
		slog.Info("health server disabled", "reason", "health-port=0")
	}

	if err := supervisor.Run(ctx); err != nil {
		return err
	}
	slog.Info("shutting down...")
	return nil
}

func aiEndpoints(cfg *config.Config) []analysis.Endpoint {
	var endpoints []analysis.Endpoint
	for _, ep := range cfg.AIEndpoints() {
		endpoints = append(endpoints, analysis.Endpoint{URL: ep.URL, Model: ep.Model, APIKey: ep.APIKey})
	}
	return endpoints
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ginMode keeps gin's route dump and debug warnings out of non-debug runs.
func ginMode(level string) string {
	if parseLogLevel(level) == slog.LevelDebug {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func setupLogging(level string) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func printStartupBanner(cfg *config.Config, configFile string) {
	slackStatus := "disabled"
	if cfg.SlackWebhookURL != "" {
		slackStatus = "enabled"
	}

	aiStatus := fmt.Sprintf("%s (%d fallbacks)", cfg.AIModel, len(cfg.AIFallbackEndpoints))
	if cfg.OpenAIAPIKey == "" {
		aiStatus = "disabled (no API key)"
	}

	configSource := configFile
	if configSource == "" {
		configSource = "(defaults only)"
	}

	watchScope := cfg.Namespace
	if watchScope == "" {
		watchScope = "all namespaces"
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         crashwatch - Kubernetes Warning Alerts                ║")
	fmt.Printf("║         Version: %-45s║\n", truncateString(Version, 45))
	fmt.Printf("║         Built:   %-45s║\n", truncateString(BuildTime, 45))
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Config File:    %-45s ║\n", truncateString(configSource, 45))
	fmt.Printf("║  Watching:       %-45s ║\n", truncateString(watchScope, 45))
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Dedup Backend:  %-45s ║\n", cfg.DedupBackend)
	fmt.Printf("║  Dedup Window:   %-45s ║\n", fmt.Sprintf("%ds", cfg.DedupWindowSeconds))
	fmt.Printf("║  AI Analysis:    %-45s ║\n", truncateString(aiStatus, 45))
	fmt.Printf("║  Slack:          %-45s ║\n", slackStatus)
	fmt.Println("╠═══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Log Level:      %-45s ║\n", cfg.LogLevel)
	fmt.Printf("║  Health Port:    %-45s ║\n", healthPortLabel(cfg.HealthPort))
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func healthPortLabel(port int) string {
	if port <= 0 {
		return "disabled"
	}
	return fmt.Sprintf("%d", port)
}

// truncateString truncates a string to maxLen, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
