package util

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the gateway.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AllowedOrigins              []string      `mapstructure:"ALLOWED_ORIGINS"`
	HTTPServerAddress           string        `mapstructure:"HTTP_SERVER_ADDRESS"`
	UpstreamBaseURL             string        `mapstructure:"UPSTREAM_BASE_URL"`
	TokenSecretKey              string        `mapstructure:"TOKEN_SECRET_KEY"`
	RedisServerAddress          string        `mapstructure:"REDIS_SERVER_ADDRESS"`
	StreamHeartbeatInterval     time.Duration `mapstructure:"STREAM_HEARTBEAT_INTERVAL"`
	StreamMaxConnectionsPerUser int           `mapstructure:"STREAM_MAX_CONNECTIONS_PER_USER"`
	UpstreamRequestTimeout      time.Duration `mapstructure:"UPSTREAM_REQUEST_TIMEOUT"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	// Set defaults for non-sensitive config
	viper.SetDefault("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	viper.SetDefault("HTTP_SERVER_ADDRESS", "0.0.0.0:8080")
	viper.SetDefault("STREAM_HEARTBEAT_INTERVAL", "30s")
	viper.SetDefault("STREAM_MAX_CONNECTIONS_PER_USER", 3)
	viper.SetDefault("UPSTREAM_REQUEST_TIMEOUT", "15s")

	// Prefer environment variables over config file
	viper.AutomaticEnv()

	// Load config file
	viper.SetConfigFile(path)
	if err = viper.ReadInConfig(); err != nil {
		return
	}

	// Unmarshal config into struct
	err = viper.UnmarshalExact(&config)
	if err != nil {
		return
	}

	// Validate required configuration
	err = validateConfig(config)
	return
}

func validateConfig(config Config) error {
	if config.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if config.TokenSecretKey == "" {
		return fmt.Errorf("TOKEN_SECRET_KEY is required")
	}

	return nil
}
