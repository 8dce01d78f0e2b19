package voxbridge

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/voxkit/voxbridge/pkg/bridge"
)

type Config struct {
	Bridge      bridge.Config   `mapstructure:"bridge"`
	Synthesis   SynthesisConfig `mapstructure:"synthesis"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
}

// SynthesisConfig selects the vendor driving all sessions; per-session
// credential and voice come from each text-ingest connection's first
// message, not from here.
type SynthesisConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type MetricsConfig struct {
	Output     string  `mapstructure:"output"`
	Path       string  `mapstructure:"path"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Buffer     int     `mapstructure:"buffer"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("bridge.server_addr", ":8000")
	v.SetDefault("bridge.text_path", "/ws/text")
	v.SetDefault("bridge.audio_path", "/ws/audio")
	v.SetDefault("bridge.session_wait_ms", 5000)
	v.SetDefault("bridge.default_model_id", "eleven_flash_v2_5")
	v.SetDefault("synthesis.provider", "elevenlabs")
	v.SetDefault("metrics.output", "none")
	v.SetDefault("metrics.sample_rate", 0.1)
	v.SetDefault("metrics.buffer", 256)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Synthesis.Provider) {
	case "":
		return fmt.Errorf("synthesis.provider is required")
	case "elevenlabs", "mock":
	default:
		return fmt.Errorf("unknown synthesis provider %q", c.Synthesis.Provider)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Environment = os.ExpandEnv(cfg.Environment)
	cfg.LogLevel = os.ExpandEnv(cfg.LogLevel)
	cfg.LogFormat = os.ExpandEnv(cfg.LogFormat)
	cfg.Bridge.ServerAddr = os.ExpandEnv(cfg.Bridge.ServerAddr)
	cfg.Metrics.Path = os.ExpandEnv(cfg.Metrics.Path)
	cfg.Synthesis.Settings = expandSettings(cfg.Synthesis.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
