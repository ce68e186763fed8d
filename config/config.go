package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/smoother"
)

// Mode selects how the relay treats inbound traffic. It is fixed at startup.
type Mode string

// Relay modes
const (
	ModeProxy    Mode = "proxy"    // forward every message verbatim
	ModeFunction Mode = "function" // classify, smooth and re-publish
)

// ParseMode parses a mode name. The empty string selects proxy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeProxy:
		return ModeProxy, nil
	case ModeFunction:
		return ModeFunction, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unknown mode %q", errors.ErrInvalidConfig, s), "config", "ParseMode", "parse mode")
	}
}

// Config is the complete relay configuration.
type Config struct {
	Version   string          `json:"version,omitempty"`
	Mode      Mode            `json:"mode"`
	Instance  string          `json:"instance,omitempty"` // defaults to a generated id
	NATS      NATSConfig      `json:"nats"`
	Subjects  SubjectsConfig  `json:"subjects"`
	Smoothing SmoothingConfig `json:"smoothing"`
	Params    ParamsConfig    `json:"params"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	// ReceiveBuffer bounds the per-subscription channel before NATS
	// reports a slow consumer.
	ReceiveBuffer int `json:"receive_buffer"`
}

// SubjectsConfig holds the subject prefixes of the three channels.
type SubjectsConfig struct {
	Inbound  string `json:"inbound"`
	Outbound string `json:"outbound"`
	Commands string `json:"commands"`
}

// StreamConfig holds the window settings of one smoothed stream.
type StreamConfig struct {
	WindowSize      int     `json:"window_size"`
	Steep           float64 `json:"steep"`
	ApplyMultiplier bool    `json:"apply_multiplier"`
}

// Params converts the stream settings for the smoother.
func (s StreamConfig) Params() smoother.Params {
	return smoother.Params{WindowSize: s.WindowSize, Steep: s.Steep, ApplyMultiplier: s.ApplyMultiplier}
}

// SmoothingConfig configures function mode.
type SmoothingConfig struct {
	Strategy            string       `json:"strategy"`
	ConfidenceThreshold float64      `json:"confidence_threshold"`
	SynthesizedPrefix   string       `json:"synthesized_prefix"`
	CommandPrefix       string       `json:"command_prefix"`
	PerTopicHistory     bool         `json:"per_topic_history"`
	ActionUnits         StreamConfig `json:"action_units"`
	Pose                StreamConfig `json:"pose"`
}

// ParamsConfig configures persistence of runtime parameters in NATS KV.
type ParamsConfig struct {
	Persist bool     `json:"persist"`
	Bucket  string   `json:"bucket"`
	Timeout Duration `json:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// Default returns the built-in configuration every layer is merged over.
func Default() *Config {
	return &Config{
		Mode: ModeProxy,
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			ReceiveBuffer: 1024,
		},
		Subjects: SubjectsConfig{
			Inbound:  "smoothbus.in",
			Outbound: "smoothbus.out",
			Commands: "smoothbus.cmd",
		},
		Smoothing: SmoothingConfig{
			Strategy:            smoother.TrailingMovingAverage.String(),
			ConfidenceThreshold: 0.8,
			SynthesizedPrefix:   "facsvatar",
			CommandPrefix:       "multiplier",
			ActionUnits:         StreamConfig{WindowSize: 4, Steep: 0.35, ApplyMultiplier: true},
			Pose:                StreamConfig{WindowSize: 4, Steep: 0.2},
		},
		Params: ParamsConfig{
			Bucket:  "smoothbus_params",
			Timeout: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Validate checks the configuration. Every failure is an invalid-class error
// wrapping errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"Config", "Validate", "validate configuration")
	}

	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return err
	}
	c.Mode = mode

	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required")
	}
	if c.NATS.ReceiveBuffer < 1 {
		return invalid("nats.receive_buffer must be positive")
	}

	subjects := map[string]string{
		"subjects.inbound":  c.Subjects.Inbound,
		"subjects.outbound": c.Subjects.Outbound,
		"subjects.commands": c.Subjects.Commands,
	}
	for field, subject := range subjects {
		if !isValidSubject(subject) {
			return invalid("%s %q is not a valid NATS subject prefix", field, subject)
		}
	}
	for a, sa := range subjects {
		for b, sb := range subjects {
			if a != b && overlaps(sa, sb) {
				return invalid("%s %q overlaps %s %q", a, sa, b, sb)
			}
		}
	}

	if c.Mode == ModeFunction {
		if err := c.Smoothing.validate(); err != nil {
			return invalid("%v", err)
		}
	}

	if c.Params.Persist && !isValidBucket(c.Params.Bucket) {
		return invalid("params.bucket %q is not a valid bucket name", c.Params.Bucket)
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}

	return nil
}

func (s SmoothingConfig) validate() error {
	strategy, err := smoother.ParseStrategy(s.Strategy)
	if err != nil {
		return err
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("smoothing.confidence_threshold %v not in [0,1]", s.ConfidenceThreshold)
	}
	if s.CommandPrefix == "" {
		return fmt.Errorf("smoothing.command_prefix is required")
	}
	for name, stream := range map[string]StreamConfig{"action_units": s.ActionUnits, "pose": s.Pose} {
		if stream.WindowSize < 1 {
			return fmt.Errorf("smoothing.%s.window_size must be at least 1", name)
		}
		if strategy == smoother.TrailingMovingAverage && (stream.Steep <= 0 || stream.Steep >= 1) {
			return fmt.Errorf("smoothing.%s.steep %v not in (0,1)", name, stream.Steep)
		}
	}
	return nil
}

// isValidSubject reports whether s is a literal subject usable as a prefix.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if unicode.IsSpace(r) || r == '*' || r == '>' {
				return false
			}
		}
	}
	return true
}

// overlaps reports whether subscribing under one prefix would receive
// messages published under the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func isValidBucket(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(&masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// Duration is a time.Duration written as a Go duration string ("2s").
// Plain numbers are read as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}
