package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/vikashloomba/mcp-router-go/pkg/mcprouter"
)

// settings are read from the environment. Flags cover what differs per run.
type settings struct {
	Timeout            time.Duration `env:"MCPROUTER_TIMEOUT,default=30s"`
	ConnectConcurrency int           `env:"MCPROUTER_CONNECT_CONCURRENCY,default=0"`
	LogLevel           string        `env:"MCPROUTER_LOG_LEVEL,default=info"`
	LogJSONRPC         bool          `env:"MCPROUTER_LOG_JSONRPC,default=false"`
	MetricsAddr        string        `env:"MCPROUTER_METRICS_ADDR"`
	// Naming is "flat" or "prefix".
	Naming       string `env:"MCPROUTER_NAMING,default=flat"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return s, fmt.Errorf("read environment: %w", err)
	}
	if _, err := s.naming(); err != nil {
		return s, err
	}
	if _, err := s.level(); err != nil {
		return s, err
	}
	return s, nil
}

func (s settings) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("MCPROUTER_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func (s settings) naming() (mcprouter.Naming, error) {
	switch strings.ToLower(s.Naming) {
	case "", "flat":
		return mcprouter.FlatNaming{}, nil
	case "prefix":
		return mcprouter.ServerPrefixNaming{}, nil
	default:
		return nil, fmt.Errorf("MCPROUTER_NAMING: unknown strategy %q (want flat or prefix)", s.Naming)
	}
}

// routerOptions translates the settings into library options.
func (s settings) routerOptions(logger *slog.Logger) *mcprouter.Options {
	naming, _ := s.naming()
	return &mcprouter.Options{
		ClientName:         "mcprouter",
		DefaultTimeout:     s.Timeout,
		ConnectConcurrency: s.ConnectConcurrency,
		Naming:             naming,
		LogJSONRPC:         s.LogJSONRPC,
		Logger:             logger,
	}
}
