package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/smoothbus/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "SMOOTHBUS"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables schema and semantic validation of the result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer in order, and environment overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	if err := l.applyEnvOverrides(merged); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := ValidateDocument(merged); err != nil {
			return nil, err
		}
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "decode configuration")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	// Round trip so YAML values take their JSON shapes.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	var out map[string]any
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return out, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// envOverride maps one environment variable onto a document path.
type envOverride struct {
	suffix string
	path   []string
	parse  func(string) (any, error)
}

func asString(s string) (any, error) { return s, nil }

func asList(s string) (any, error) {
	var out []any
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func asNumber(s string) (any, error) { return strconv.ParseFloat(s, 64) }

func asBool(s string) (any, error) { return strconv.ParseBool(s) }

var envOverrides = []envOverride{
	{"MODE", []string{"mode"}, asString},
	{"INSTANCE", []string{"instance"}, asString},
	{"NATS_URLS", []string{"nats", "urls"}, asList},
	{"NATS_USERNAME", []string{"nats", "username"}, asString},
	{"NATS_PASSWORD", []string{"nats", "password"}, asString},
	{"NATS_TOKEN", []string{"nats", "token"}, asString},
	{"INBOUND", []string{"subjects", "inbound"}, asString},
	{"OUTBOUND", []string{"subjects", "outbound"}, asString},
	{"COMMANDS", []string{"subjects", "commands"}, asString},
	{"STRATEGY", []string{"smoothing", "strategy"}, asString},
	{"CONFIDENCE_THRESHOLD", []string{"smoothing", "confidence_threshold"}, asNumber},
	{"PER_TOPIC_HISTORY", []string{"smoothing", "per_topic_history"}, asBool},
	{"PARAMS_PERSIST", []string{"params", "persist"}, asBool},
	{"METRICS_PORT", []string{"metrics", "port"}, asNumber},
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(doc map[string]any) error {
	for _, o := range envOverrides {
		key := l.envPrefix + "_" + o.suffix
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		parsed, err := o.parse(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		setPath(doc, o.path, parsed)
	}
	return nil
}

func setPath(doc map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := doc[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[key] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromMap(doc map[string]any) (*Config, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
