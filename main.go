package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/nvrlab/rtsptrace/cmd"
	"github.com/nvrlab/rtsptrace/internal/config"
	"github.com/nvrlab/rtsptrace/internal/events"
	"github.com/nvrlab/rtsptrace/internal/logging"
	"github.com/nvrlab/rtsptrace/internal/metrics"
	"github.com/nvrlab/rtsptrace/internal/monitor"
	"github.com/nvrlab/rtsptrace/internal/recorder"
	"github.com/nvrlab/rtsptrace/internal/source"
	"github.com/nvrlab/rtsptrace/internal/storage"
	"github.com/nvrlab/rtsptrace/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"rtsptrace.toml"`

	// Capture settings
	DB      string `help:"Path to capture database" default:"capture.db" toml:"capture.db" env:"CAPTURE_DB"`
	Cameras string `help:"Camera definitions file" default:"cameras.toml" toml:"capture.cameras_file" env:"CAPTURE_CAMERAS_FILE"`

	// RTSP settings
	RTSPReadTimeout string `help:"RTSP read timeout" default:"10s" toml:"rtsp.read_timeout" env:"RTSP_READ_TIMEOUT"`
	RTSPTransport   string `help:"RTSP transport (tcp, udp, empty for automatic)" default:"" toml:"rtsp.transport" env:"RTSP_TRANSPORT"`

	// Metrics settings
	MetricsAddr string `help:"Prometheus listen address (empty disables)" default:"" toml:"metrics.addr" env:"METRICS_ADDR"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingMonitor string `help:"Monitor logging level" default:"info" toml:"logging.monitor" env:"LOGGING_MONITOR"`
	LoggingSource  string `help:"Source logging level" default:"info" toml:"logging.source" env:"LOGGING_SOURCE"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingMetrics string `help:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
}

func main() {
	// Create Huma CLI. The callback runs after flag parsing, so the root
	// command is available to tell explicitly-set flags from defaults.
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging: file-level module settings first, then the
		// resolved options on top
		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		for module, level := range map[string]string{
			"monitor": opts.LoggingMonitor,
			"source":  opts.LoggingSource,
			"config":  opts.LoggingConfig,
			"metrics": opts.LoggingMetrics,
		} {
			if level != "" {
				loggingConfig.Modules[module] = level
			}
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		readTimeout, err := time.ParseDuration(opts.RTSPReadTimeout)
		if err != nil {
			logger.Warn("Invalid RTSP read timeout, using 10s", "value", opts.RTSPReadTimeout)
			readTimeout = 10 * time.Second
		}

		cams, err := config.LoadCameras(opts.Cameras)
		if err != nil {
			logger.Error("Failed to load cameras config", "error", err, "path", opts.Cameras)
			os.Exit(1)
		}
		if len(cams.Cameras) == 0 {
			logger.Warn("No cameras configured, waiting for config reload", "path", opts.Cameras)
		}

		store, err := storage.Open(opts.DB)
		if err != nil {
			logger.Error("Failed to open capture database", "error", err, "path", opts.DB)
			os.Exit(1)
		}

		// Create event bus for in-process event handling
		eventBus := events.New()
		unsubscribeMetrics := metrics.SubscribeBus(eventBus)

		var metricsServer *metrics.Server
		if opts.MetricsAddr != "" {
			metricsServer = metrics.NewServer(opts.MetricsAddr, logging.GetLogger("metrics"))
		}

		rtspSource := source.NewRTSP(readTimeout, opts.RTSPTransport)
		mon := monitor.New(recorder.New(store), rtspSource, eventBus)

		// Reload the camera set when cameras.toml changes
		watcher := config.NewConfigWatcher(opts.Cameras, config.LoadCameras)
		watcher.OnReload(func(fresh config.Cameras) {
			mon.Reload(fresh)
		})

		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan struct{})

		hooks.OnStart(func() {
			defer close(runDone)

			if metricsServer != nil {
				metricsServer.Start()
			}

			if err := watcher.Start(); err != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
			} else {
				defer func() { _ = watcher.Stop() }()
			}

			logger.Info("Starting capture",
				"version", version.String(), "cameras", len(cams.Cameras), "db", opts.DB)
			if runErr := mon.Run(ctx, cams); runErr != nil {
				logger.Error("Capture stopped", "error", runErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			<-runDone

			if metricsServer != nil {
				metricsServer.Stop()
			}
			unsubscribeMetrics()

			if closeErr := store.Close(); closeErr != nil {
				logger.Error("Error closing capture database", "error", closeErr)
			}
		})
	})

	// Add report command
	cli.Root().AddCommand(cmd.CreateReportCmd())

	// Add update command
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	// Add version command
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
