package monitoring

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Tuning defines detector parameters.
type Tuning struct {
	WindowSize  int     `yaml:"window_size"`
	ZScoreLimit float64 `yaml:"zscore_limit"`
}

// Config defines monitoring pipeline configuration.
type Config struct {
	Defaults Tuning            `yaml:"defaults"`
	Types    map[string]Tuning `yaml:"types"`
	// RebuildWindow controls whether rolling statistics are rebuilt from
	// recent readings on startup. Rebuilding empty is acceptable; anomaly
	// detection is best-effort.
	RebuildWindow bool `yaml:"rebuild_window"`
}

// LoadConfig loads monitoring config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults: Tuning{
			WindowSize:  getenvIntDefault("MONITOR_WINDOW_SIZE", 50),
			ZScoreLimit: getenvFloatDefault("MONITOR_ZSCORE_LIMIT", DefaultZScoreLimit),
		},
	}

	if path := os.Getenv("MONITOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Defaults.WindowSize < MinSamples {
		cfg.Defaults.WindowSize = MinSamples
	}
	if cfg.Defaults.ZScoreLimit <= 0 {
		cfg.Defaults.ZScoreLimit = DefaultZScoreLimit
	}
	return cfg, nil
}

// TuningForType returns detector tuning for a sensor type.
func (c Config) TuningForType(sensorType string) Tuning {
	if c.Types != nil {
		if override, ok := c.Types[sensorType]; ok {
			return mergeTuning(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeTuning(base, override Tuning) Tuning {
	if override.WindowSize >= MinSamples {
		base.WindowSize = override.WindowSize
	}
	if override.ZScoreLimit > 0 {
		base.ZScoreLimit = override.ZScoreLimit
	}
	return base
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
