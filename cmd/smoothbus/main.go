// Package main implements the smoothbus relay. It subscribes to publishers
// on NATS, optionally smooths facial action-unit and pose values, and
// re-publishes every message to subscribers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/bus/natsbus"
	"github.com/c360/smoothbus/component"
	"github.com/c360/smoothbus/config"
	"github.com/c360/smoothbus/metric"
	"github.com/c360/smoothbus/natsclient"
	"github.com/c360/smoothbus/pkg/retry"
	paramrouter "github.com/c360/smoothbus/processor/param_router"
	"github.com/c360/smoothbus/relay"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "smoothbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	slog.Info("Starting smoothbus",
		"version", Version,
		"build_time", BuildTime,
		"mode", string(cfg.Mode),
		"config_paths", cliCfg.ConfigPaths.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	client, err := connectToNATS(ctx, cfg, registry, logger, cliCfg.ConnectTimeout)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			slog.Warn("Error closing NATS connection", "error", err)
		}
	}()

	channels, err := openChannels(cfg, client)
	if err != nil {
		return err
	}
	defer closeChannels(channels)

	deps := component.Dependencies{
		NATSClient:      client,
		MetricsRegistry: registry,
		Logger:          logger,
	}

	var opts []relay.Option
	if cfg.Mode == config.ModeFunction && cfg.Params.Persist {
		store, err := openParamStore(ctx, cfg, client)
		if err != nil {
			return err
		}
		opts = append(opts, relay.WithStore(store))
	}

	ctrl, err := relay.New(cfg, channels, deps, opts...)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	return runWithSignalHandling(ctx, cfg, ctrl, client, registry)
}

// loadConfig merges defaults, config layers, environment and the --mode flag.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range cliCfg.ConfigPaths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Mode != "" {
		mode, err := config.ParseMode(cliCfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("invalid mode: %w", err)
		}
		cfg.Mode = mode
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready.
func connectToNATS(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
	timeout time.Duration,
) (*natsclient.Client, error) {
	name := cfg.NATS.Name
	if name == "" {
		name = appName
		if cfg.Instance != "" {
			name += "-" + cfg.Instance
		}
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			slog.Info("NATS health changed", "healthy", healthy)
		}),
	}
	switch {
	case cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	case cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := retry.Do(connCtx, retry.Startup(), client.Connect); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// openChannels subscribes the inbound side before anything publishes so no
// early message is lost.
func openChannels(cfg *config.Config, client *natsclient.Client) (relay.Channels, error) {
	var ch relay.Channels

	in, err := natsbus.NewInbound(client, cfg.Subjects.Inbound, cfg.NATS.ReceiveBuffer)
	if err != nil {
		return ch, fmt.Errorf("subscribe inbound: %w", err)
	}
	ch.Inbound = in

	out, err := natsbus.NewSender(client, cfg.Subjects.Outbound)
	if err != nil {
		_ = in.Close()
		return ch, fmt.Errorf("create outbound: %w", err)
	}
	ch.Outbound = out

	if cfg.Mode == config.ModeFunction {
		cmds, err := natsbus.NewCommands(client, cfg.Subjects.Commands, cfg.NATS.ReceiveBuffer)
		if err != nil {
			_ = in.Close()
			return ch, fmt.Errorf("subscribe commands: %w", err)
		}
		ch.Commands = cmds
	}

	slog.Info("Channels open",
		"inbound", cfg.Subjects.Inbound,
		"outbound", cfg.Subjects.Outbound,
		"commands", cfg.Subjects.Commands)
	return ch, nil
}

func closeChannels(ch relay.Channels) {
	for _, r := range []bus.Receiver{ch.Inbound, ch.Commands} {
		if c, ok := r.(bus.ReceiveCloser); ok {
			_ = c.Close()
		}
	}
}

// openParamStore binds the multiplier store to the configured KV bucket.
func openParamStore(ctx context.Context, cfg *config.Config, client *natsclient.Client) (*paramrouter.KVMultiplierStore, error) {
	timeout := cfg.Params.Timeout.Std()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	kvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bucket, err := retry.Value(kvCtx, retry.Quick(), func(ctx context.Context) (jetstream.KeyValue, error) {
		return client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Params.Bucket,
			Description: "smoothbus runtime parameters",
			History:     5,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("open params bucket %s: %w", cfg.Params.Bucket, err)
	}

	slog.Info("Multiplier persistence enabled", "bucket", cfg.Params.Bucket)
	return paramrouter.NewKVMultiplierStore(client.NewKVStore(bucket, cfg.Params.Timeout.Std())), nil
}

// runWithSignalHandling runs the relay and the metrics endpoint until a
// signal arrives or the relay stops on its own.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	ctrl *relay.Controller,
	client *natsclient.Client,
	registry *metric.MetricsRegistry,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := ctrl.Run(gctx)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		// An inbound channel that closes ends the process.
		if ctx.Err() == nil {
			return errRelayStopped
		}
		return nil
	})

	if cfg.Metrics.Port > 0 {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, func() bool {
			return ctrl.Healthy() && client.IsHealthy()
		})
		server.SetStatus(func() any {
			return struct {
				Instance   string             `json:"instance"`
				Mode       string             `json:"mode"`
				NATS       string             `json:"nats"`
				Components []component.Report `json:"components"`
			}{ctrl.ID(), string(ctrl.Mode()), client.Status().String(), ctrl.Status()}
		})
		g.Go(func() error {
			slog.Info("Metrics endpoint listening", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			return server.Run(gctx)
		})
	}

	slog.Info("smoothbus started", "instance", ctrl.ID(), "mode", string(ctrl.Mode()))

	err := g.Wait()
	if errors.Is(err, errRelayStopped) {
		slog.Info("Relay stopped, shutting down")
		err = nil
	}
	if err != nil {
		return err
	}

	slog.Info("smoothbus shutdown complete")
	return nil
}

var errRelayStopped = errors.New("relay stopped")
