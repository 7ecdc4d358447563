// Package config loads server configuration from defaults, an optional
// config file, and CHATRELAY_* environment variables, in ascending
// priority. CLI flags are applied on top by the chatserver command.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`  // e.g. ":7775"; ":0" lets the OS assign
	LogLevel    string `mapstructure:"log_level"`    // "debug", "info", "warn", "error"
	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables the /metrics listener
}

const (
	defaultListenAddr = ":0"
	defaultLogLevel   = "info"
)

// Load reads config from an optional file plus environment overrides.
// Pass an empty path to use defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("metrics_addr", "")

	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
