package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig contains all configuration for the runner agent.
type WorkerConfig struct {
	GRPC          WorkerGRPCConfig `mapstructure:"grpc"`
	MaxConcurrent int              `mapstructure:"max_concurrent"`
	Program       string           `mapstructure:"program"`
	Logging       LoggingConfig    `mapstructure:"logging"`
}

// WorkerGRPCConfig contains the runner agent gRPC server configuration.
type WorkerGRPCConfig struct {
	Addr             string        `mapstructure:"addr"`
	KeepaliveMinTime time.Duration `mapstructure:"keepalive_min_time"`
}

// LoadWorker loads the runner agent configuration from the given path.
// If configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with CASBATCH_WORKER_ prefix override config file values.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("grpc.keepalive_min_time", 15*time.Second)
	v.SetDefault("max_concurrent", 1)
	v.SetDefault("program", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("worker")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CASBATCH_WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max_concurrent must be positive, got %d", cfg.MaxConcurrent)
	}

	return &cfg, nil
}
