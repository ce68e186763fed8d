package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/smoother"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeProxy, cfg.Mode)
	assert.Equal(t, 0.8, cfg.Smoothing.ConfidenceThreshold)
	assert.Equal(t, "facsvatar", cfg.Smoothing.SynthesizedPrefix)
	assert.Equal(t, "multiplier", cfg.Smoothing.CommandPrefix)
	assert.Equal(t, smoother.Params{WindowSize: 4, Steep: 0.35, ApplyMultiplier: true}, cfg.Smoothing.ActionUnits.Params())
	assert.Equal(t, smoother.Params{WindowSize: 4, Steep: 0.2}, cfg.Smoothing.Pose.Params())

	fn := Default()
	fn.Mode = ModeFunction
	require.NoError(t, fn.Validate())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeProxy, m)

	m, err = ParseMode(" Function ")
	require.NoError(t, err)
	assert.Equal(t, ModeFunction, m)

	_, err = ParseMode("router")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no urls", func(c *Config) { c.NATS.URLs = nil }},
		{"zero receive buffer", func(c *Config) { c.NATS.ReceiveBuffer = 0 }},
		{"wildcard subject", func(c *Config) { c.Subjects.Inbound = "in.*" }},
		{"empty subject token", func(c *Config) { c.Subjects.Outbound = "out..x" }},
		{"inbound equals outbound", func(c *Config) { c.Subjects.Outbound = c.Subjects.Inbound }},
		{"outbound under inbound", func(c *Config) { c.Subjects.Outbound = c.Subjects.Inbound + ".relayed" }},
		{"unknown strategy", func(c *Config) { c.Mode = ModeFunction; c.Smoothing.Strategy = "kalman" }},
		{"threshold above one", func(c *Config) { c.Mode = ModeFunction; c.Smoothing.ConfidenceThreshold = 1.5 }},
		{"steep of one", func(c *Config) { c.Mode = ModeFunction; c.Smoothing.Pose.Steep = 1 }},
		{"zero window", func(c *Config) { c.Mode = ModeFunction; c.Smoothing.ActionUnits.WindowSize = 0 }},
		{"empty command prefix", func(c *Config) { c.Mode = ModeFunction; c.Smoothing.CommandPrefix = "" }},
		{"bad bucket", func(c *Config) { c.Params.Persist = true; c.Params.Bucket = "a.b" }},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_SmoothingIgnoredInProxyMode(t *testing.T) {
	cfg := Default()
	cfg.Smoothing.Strategy = "kalman"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_MovingAverageAllowsAnySteep(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeFunction
	cfg.Smoothing.Strategy = "moving_average"
	cfg.Smoothing.Pose.Steep = 0
	assert.NoError(t, cfg.Validate())
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "s3cret")
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
