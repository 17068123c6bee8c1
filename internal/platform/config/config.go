package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: String("SERVICE_NAME", ""),
		LogLevel:    String("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: String("HTTP_ADDR", ":8080"),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	return cfg, nil
}

// String returns the trimmed value of key, or fallback when unset or blank.
func String(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Int parses key as a non-negative integer.
func Int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// Float parses key as a positive float.
func Float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !(f > 0) {
		return fallback
	}
	return f
}

// Duration parses key with time.ParseDuration. Non-positive values fall back.
func Duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Bool accepts 1/0, true/false, yes/no and on/off.
func Bool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
