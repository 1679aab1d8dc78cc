package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nozo-moto/gnethogs/internal/app"
	"github.com/nozo-moto/gnethogs/internal/config"
	"github.com/nozo-moto/gnethogs/internal/logger"
)

var (
	configPath  string
	engineKind  string
	devices     []string
	filter      string
	interval    time.Duration
	metricsAddr string
	logLevel    string
	logFile     string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "gnethogs",
		Short:        "Per-process network bandwidth monitor",
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to gnethogs.yml")
	rootCmd.Flags().StringVar(&engineKind, "engine", "", "Measurement engine (pcap or nethogs)")
	rootCmd.Flags().StringSliceVarP(&devices, "device", "d", nil, "Capture device, repeatable (default: every interface that is up)")
	rootCmd.Flags().StringVar(&filter, "filter", "", "Extra BPF filter for the pcap engine")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "Engine update interval (e.g. 100ms, 1s)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.GNethogs.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	log.Info("gnethogs starting",
		zap.String("engine", cfg.GNethogs.Engine.Kind),
		zap.Strings("devices", cfg.GNethogs.Engine.Devices),
		zap.Duration("interval", cfg.GNethogs.Engine.Interval))

	a, err := app.Build(cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	c := &cfg.GNethogs
	flags := cmd.Flags()

	if flags.Changed("engine") {
		c.Engine.Kind = engineKind
	}
	if flags.Changed("device") {
		c.Engine.Devices = devices
	}
	if flags.Changed("filter") {
		c.Engine.Filter = filter
	}
	if flags.Changed("interval") {
		c.Engine.Interval = interval
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Enabled = true
		c.Metrics.Addr = metricsAddr
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		c.Logging.File = logFile
	}
}
