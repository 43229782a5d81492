package config

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/CaliLuke/go-nitrate/nitrate"
	"github.com/CaliLuke/go-nitrate/tcms"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
)

// Settings are the process wide knobs read from the environment.
type Settings struct {
	// Cache is the initial session cache level (CACHE, default objects).
	Cache nitrate.CacheLevel
	// Color is the output colour mode (COLOR, default auto).
	Color tcms.ColorMode
	// LogLevel follows DEBUG: 0 warn, 1 info, 2 debug.
	LogLevel slog.Level
}

// FromEnv reads CACHE, COLOR and DEBUG.
func FromEnv(ctx context.Context) (Settings, error) {
	s := Settings{
		Cache:    nitrate.DefaultCacheLevel,
		Color:    tcms.ColorAuto,
		LogLevel: slog.LevelWarn,
	}
	var err error
	if v := env.GetVariableOrDefault(ctx, "CACHE", ""); v != "" {
		if s.Cache, err = nitrate.ParseCacheLevel(v); err != nil {
			return s, fmt.Errorf("CACHE: %w", err)
		}
	}
	if v := env.GetVariableOrDefault(ctx, "COLOR", ""); v != "" {
		if s.Color, err = parseColorMode(v); err != nil {
			return s, fmt.Errorf("COLOR: %w", err)
		}
	}
	if v := env.GetVariableOrDefault(ctx, "DEBUG", ""); v != "" {
		if s.LogLevel, err = parseDebug(v); err != nil {
			return s, fmt.Errorf("DEBUG: %w", err)
		}
	}
	return s, nil
}

func parseColorMode(v string) (tcms.ColorMode, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < int(tcms.ColorOff) || n > int(tcms.ColorAuto) {
		return 0, &nitrate.InvalidArgumentError{What: "color mode", Value: v}
	}
	return tcms.ColorMode(n), nil
}

func parseDebug(v string) (slog.Level, error) {
	switch v {
	case "0":
		return slog.LevelWarn, nil
	case "1":
		return slog.LevelInfo, nil
	case "2":
		return slog.LevelDebug, nil
	}
	return 0, &nitrate.InvalidArgumentError{What: "debug level", Value: v}
}
