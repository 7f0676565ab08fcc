package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config of the gardener daemon.
type Config struct {
	// Interval between the end of a zone's cycle and its next moisture reading.
	Interval time.Duration `mapstructure:"interval"`

	// ShutdownTimeout bounds how long to wait for in-flight watering on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`

	Log   LogConfig    `mapstructure:"log"`
	Pool  PoolConfig   `mapstructure:"pool"`
	Zones []ZoneConfig `mapstructure:"zones"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`

	// File enables rotating file output instead of stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

type PoolConfig struct {
	MaxWorkers int `mapstructure:"maxWorkers"`
}

type ZoneConfig struct {
	Name         string        `mapstructure:"name"`
	Threshold    float64       `mapstructure:"threshold"`
	WateringTime time.Duration `mapstructure:"wateringTime"`

	// Simulation parameters.
	Moisture      float64 `mapstructure:"moisture"`
	Decay         float64 `mapstructure:"decay"`
	GainPerSecond float64 `mapstructure:"gainPerSecond"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", "12h")
	v.SetDefault("shutdownTimeout", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAgeDays", 28)
	v.SetDefault("pool.maxWorkers", 16)
	v.SetDefault("zones", []map[string]interface{}{
		{
			"name":          "garden",
			"threshold":     20,
			"wateringTime":  "5m",
			"moisture":      50,
			"decay":         2,
			"gainPerSecond": 0.1,
		},
	})
}

// loadConfig reads path if given, otherwise gardener.yml from the working
// directory or /etc/gardener. A missing default config file means all defaults.
// Environment variables GARDENER_<KEY> (dots replaced by underscores) override.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GARDENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gardener")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gardener")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("Read config error: %s", err.Error())
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("Decode config error: %s", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if cfg.Pool.MaxWorkers < 1 {
		return fmt.Errorf("pool.maxWorkers must be at least 1")
	}
	if len(cfg.Zones) == 0 {
		return fmt.Errorf("no zones")
	}
	names := map[string]bool{}
	for i, zone := range cfg.Zones {
		if zone.Name == "" {
			return fmt.Errorf("zones[%d]: empty name", i)
		}
		if names[zone.Name] {
			return fmt.Errorf("zones[%d]: duplicated name %q", i, zone.Name)
		}
		names[zone.Name] = true
	}
	return nil
}
