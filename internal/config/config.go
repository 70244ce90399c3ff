package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL  string
	SocketURL   string
	DBFile      string
	MediaDir    string
	MetricsAddr string

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

func Load() (*Config, error) {
	reconnectDelay, err := time.ParseDuration(getEnv("RECONNECT_DELAY", "1s"))
	if err != nil {
		return nil, err
	}
	reconnectMaxDelay, err := time.ParseDuration(getEnv("RECONNECT_MAX_DELAY", "5s"))
	if err != nil {
		return nil, err
	}
	reconnectAttempts, err := strconv.Atoi(getEnv("RECONNECT_ATTEMPTS", "10"))
	if err != nil {
		return nil, fmt.Errorf("RECONNECT_ATTEMPTS must be an integer: %w", err)
	}

	cfg := &Config{
		APIBaseURL:        getEnv("AETHER_API_URL", "https://api.aether.app"),
		SocketURL:         getEnv("AETHER_WS_URL", "wss://api.aether.app/socket"),
		DBFile:            getEnv("AETHER_DB", "aetherchat.db"),
		MediaDir:          getEnv("AETHER_MEDIA_DIR", "media"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		ReconnectAttempts: reconnectAttempts,
		ReconnectDelay:    reconnectDelay,
		ReconnectMaxDelay: reconnectMaxDelay,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("AETHER_API_URL is required")
	}

	if c.SocketURL == "" {
		return fmt.Errorf("AETHER_WS_URL is required")
	}

	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must be greater than 0")
	}

	if c.ReconnectDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectDelay {
		return fmt.Errorf("reconnect delays must be positive and RECONNECT_MAX_DELAY >= RECONNECT_DELAY")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
