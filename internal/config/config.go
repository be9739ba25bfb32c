package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int    `yaml:"port"`
	Symbol           string `yaml:"symbol"`
	Source           string `yaml:"source"`
	Levels           int    `yaml:"levels"`
	FeedGatewayURL   string `yaml:"feed_gateway_url"`
	LogLevel         string `yaml:"log_level"`
	ReconnectSeconds int    `yaml:"reconnect_seconds"`
}

func defaults() Config {
	return Config{
		Port:             8087,
		Symbol:           "AAPL",
		Source:           "DEX",
		Levels:           10,
		FeedGatewayURL:   "http://127.0.0.1:6000",
		LogLevel:         "info",
		ReconnectSeconds: 30,
	}
}

func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	// Validation & normalization
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return cfg, errors.New("symbol must not be empty")
	}
	if cfg.Levels < 0 {
		return cfg, errors.New("levels must be >= 0 (0 means unbounded)")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.New("invalid port")
	}
	if cfg.FeedGatewayURL == "" {
		return cfg, errors.New("feed_gateway_url must not be empty")
	}
	if cfg.ReconnectSeconds < 1 {
		return cfg, errors.New("reconnect_seconds must be >= 1")
	}
	return cfg, nil
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
