package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/internal/client_factory"
	"github.com/cloudoperators/greenhouse-mirror/internal/config_loader"
	"github.com/cloudoperators/greenhouse-mirror/internal/k8s_client"
	"github.com/cloudoperators/greenhouse-mirror/internal/selection"
	"github.com/cloudoperators/greenhouse-mirror/internal/server"
	"github.com/cloudoperators/greenhouse-mirror/internal/session"
	"github.com/cloudoperators/greenhouse-mirror/pkg/health"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/cloudoperators/greenhouse-mirror/pkg/otel"
	"github.com/cloudoperators/greenhouse-mirror/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Command-line flags
var (
	configPath string
	logLevel   string
	logFormat  string
	logOutput  string
)

// Timeout constants
const (
	// OTelShutdownTimeout is the timeout for gracefully shutting down the OpenTelemetry TracerProvider
	OTelShutdownTimeout = 5 * time.Second
	// ServerShutdownTimeout bounds the shutdown of each HTTP server
	ServerShutdownTimeout = 5 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "greenhouse-mirror",
		Short: "Greenhouse Mirror - live mirrors of Greenhouse resources for the admin dashboards",
		Long: `Greenhouse Mirror watches Greenhouse custom resources (Clusters, Plugins,
PluginDefinitions, PluginPresets, Secrets) of one organization, keeps a
name-keyed mirror of each kind and serves them to the admin dashboards.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the watches and serve the mirrors",
		Long: `Start greenhouse-mirror in serve mode. It will:
- List and watch every configured resource kind
- Keep one mirror per kind in sync with its watch
- Serve snapshots, websocket streams and writes on the API port
- Fetch the Plugins of a selected Cluster on demand`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Path to mirror configuration file (can also use %s env var)", config_loader.EnvConfigPath))
	serveCmd.Flags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error). Env: LOG_LEVEL")
	serveCmd.Flags().StringVar(&logFormat, "log-format", "",
		"Log format (text, json). Env: LOG_FORMAT")
	serveCmd.Flags().StringVar(&logOutput, "log-output", "",
		"Log output (stdout, stderr). Env: LOG_OUTPUT")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Info()
			fmt.Printf("Greenhouse Mirror\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Commit:     %s\n", info.Commit)
			fmt.Printf("  Built:      %s\n", info.BuildDate)
			fmt.Printf("  Tag:        %s\n", info.Tag)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLoggerConfig creates a logger configuration from environment variables
// and command-line flags. Flags take precedence over environment variables.
func buildLoggerConfig(component string) logger.Config {
	cfg := logger.ConfigFromEnv()

	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	if logOutput != "" {
		cfg.Output = logOutput
	}

	cfg.Component = component
	cfg.Version = version.Version

	return cfg
}

// runServe contains the main application logic for the serve command
func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap logger, replaced once the config names the session
	log, err := logger.NewLogger(buildLoggerConfig("greenhouse-mirror"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	log.Infof(ctx, "Starting Greenhouse Mirror version=%s commit=%s built=%s tag=%s",
		version.Version, version.Commit, version.BuildDate, version.Tag)

	// If configPath is empty, Load reads MIRROR_CONFIG_PATH
	log.Info(ctx, "Loading mirror configuration...")
	cfg, err := config_loader.Load(configPath)
	if err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to load mirror configuration")
		return fmt.Errorf("failed to load mirror configuration: %w", err)
	}

	componentName := cfg.Metadata.Name
	log, err = logger.NewLogger(buildLoggerConfig(componentName))
	if err != nil {
		return fmt.Errorf("failed to create logger with config: %w", err)
	}
	log.Infof(ctx, "Mirror configuration loaded successfully: name=%s namespace=%s resources=%v",
		componentName, cfg.Spec.Namespace, cfg.ResourceNames())

	sampleRatio := otel.GetTraceSampleRatio(log, ctx)
	tp, err := otel.InitTracer(componentName, version.Version, sampleRatio)
	if err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to initialize OpenTelemetry")
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), OTelShutdownTimeout)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			errCtx := logger.WithErrorField(shutdownCtx, err)
			log.Warnf(errCtx, "Failed to shutdown TracerProvider")
		}
	}()

	// Readiness starts as false
	healthServer := health.NewServer(log, cfg.Spec.Server.HealthPort, componentName)
	if err := healthServer.Start(ctx); err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to start health server")
		return fmt.Errorf("failed to start health server: %w", err)
	}
	healthServer.SetConfigLoaded()
	defer shutdown(log, "health server", healthServer.Shutdown)

	metricsServer := health.NewMetricsServer(log, cfg.Spec.Server.MetricsPort, health.MetricsConfig{
		Component: componentName,
		Version:   version.Version,
		Commit:    version.Commit,
	})
	if err := metricsServer.Start(ctx); err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to start metrics server")
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer shutdown(log, "metrics server", metricsServer.Shutdown)

	// Uses spec.kubernetes.kubeConfigPath if set, otherwise in-cluster config
	log.Info(ctx, "Creating Kubernetes clients...")
	clients, err := client_factory.CreateK8sClients(ctx, cfg.Spec.Kubernetes, log)
	if err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to create Kubernetes clients")
		return fmt.Errorf("failed to create Kubernetes clients: %w", err)
	}

	sess, err := session.FromConfig(cfg, clients.Dynamic, log,
		session.WithRecorder(metricsServer.Mirror()),
		session.WithHealth(healthServer),
	)
	if err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to create mirror session")
		return fmt.Errorf("failed to create mirror session: %w", err)
	}

	serverOpts := []server.Option{
		server.WithWriter(k8s_client.NewWriter(clients.CRUD, log,
			k8s_client.WithWriteRecorder(metricsServer.Mirror()))),
	}
	if cfg.SelectionEnabled() {
		fetcher, err := buildSelectionFetcher(cfg, clients.CRUD, log)
		if err != nil {
			errCtx := logger.WithErrorField(ctx, err)
			log.Errorf(errCtx, "Failed to configure cluster selection")
			return fmt.Errorf("failed to configure cluster selection: %w", err)
		}
		serverOpts = append(serverOpts, server.WithSelector(fetcher))
	}
	apiServer := server.New(server.Config{
		Port:      cfg.Spec.Server.Port,
		Namespace: cfg.Spec.Namespace,
		Resources: cfg.Spec.Resources,
	}, sess, log, serverOpts...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof(ctx, "Received signal %s, initiating graceful shutdown...", sig)
		// /readyz must return 503 before the watches stop
		log.Info(ctx, "Shutdown initiated, marking not ready")
		healthServer.SetShuttingDown(true)
		cancel()

		sig = <-sigCh
		log.Infof(ctx, "Received second signal %s, forcing immediate exit", sig)
		os.Exit(1)
	}()

	log.Info(ctx, "Starting watches...")
	if err := sess.Start(ctx); err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to start watches")
		return fmt.Errorf("failed to start watches: %w", err)
	}
	defer sess.Stop()

	if err := apiServer.Start(ctx); err != nil {
		errCtx := logger.WithErrorField(ctx, err)
		log.Errorf(errCtx, "Failed to start API server")
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer shutdown(log, "API server", apiServer.Shutdown)

	log.Info(ctx, "Greenhouse Mirror started, serving mirrors...")

	<-ctx.Done()
	log.Info(ctx, "Context cancelled, shutting down...")
	return nil
}

// buildSelectionFetcher wires the cluster selection to the configured resource,
// Plugins labelled with the selected cluster by default.
func buildSelectionFetcher(cfg *config_loader.MirrorConfig, c k8s_client.K8sClient, log logger.Logger) (*selection.Fetcher, error) {
	res, ok := cfg.FindResource(cfg.Spec.Selection.Resource)
	if !ok {
		return nil, fmt.Errorf("selection resource %q is not configured", cfg.Spec.Selection.Resource)
	}
	gvk, err := res.GVK()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Spec.Selection.ParseTimeout()
	if err != nil {
		return nil, err
	}
	fetch := selection.ByLabel(c, gvk, cfg.Spec.Namespace, cfg.Spec.Selection.LabelKey, log)
	return selection.NewFetcher(fetch, timeout, log), nil
}

func shutdown(log logger.Logger, name string, fn func(context.Context) error) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ServerShutdownTimeout)
	defer shutdownCancel()
	if err := fn(shutdownCtx); err != nil {
		errCtx := logger.WithErrorField(shutdownCtx, err)
		log.Warnf(errCtx, "Failed to shutdown %s", name)
	}
}
