package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     layerList
	Mode            string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ConnectTimeout  time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// layerList collects repeated --config flags. Later files override earlier ones.
type layerList []string

func (l *layerList) String() string { return strings.Join(*l, ",") }

func (l *layerList) Set(v string) error {
	if v == "" {
		return fmt.Errorf("empty config path")
	}
	*l = append(*l, v)
	return nil
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.Var(&cfg.ConfigPaths, "config",
		"Configuration file, repeatable; later files override earlier ones (env: SMOOTHBUS_CONFIG)")
	fs.Var(&cfg.ConfigPaths, "c", "Shorthand for --config")

	fs.StringVar(&cfg.Mode, "mode", "",
		"Relay mode: proxy, function; overrides the configuration (env: SMOOTHBUS_MODE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SMOOTHBUS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SMOOTHBUS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SMOOTHBUS_LOG_FORMAT", "json"),
		"Log format: json, text (env: SMOOTHBUS_LOG_FORMAT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SMOOTHBUS_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: SMOOTHBUS_SHUTDOWN_TIMEOUT)")

	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout",
		getEnvDuration("SMOOTHBUS_CONNECT_TIMEOUT", 10*time.Second),
		"Time to wait for the first NATS connection (env: SMOOTHBUS_CONNECT_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowHelp {
		fs.Usage()
	}

	if len(cfg.ConfigPaths) == 0 {
		if env := os.Getenv("SMOOTHBUS_CONFIG"); env != "" {
			for _, p := range strings.Split(env, string(os.PathListSeparator)) {
				if p = strings.TrimSpace(p); p != "" {
					cfg.ConfigPaths = append(cfg.ConfigPaths, p)
				}
			}
		}
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, p := range cfg.ConfigPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file not found: %s", p)
		}
	}

	if cfg.Mode != "" && !slices.Contains([]string{"proxy", "function"}, cfg.Mode) {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, strings.ToLower(cfg.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect timeout: %s", cfg.ConnectTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - N-proxy-M smoothing relay

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Forward every message unchanged
  %s --mode=proxy

  # Smooth facial data with a base file and a local override
  %s --mode=function --config=relay.yaml --config=local.json

  # Run with environment variables
  export SMOOTHBUS_CONFIG=/etc/smoothbus/relay.yaml
  export SMOOTHBUS_NATS_URLS=nats://nats:4222
  %s

  # Validate configuration only
  %s --config=relay.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
