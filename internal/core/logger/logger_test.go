package logger //nolint:testpackage // global logger state

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefault(t *testing.T) { //nolint:paralleltest // global logger
	logger := newDefault()

	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewZapCfg(t *testing.T) { //nolint:paralleltest // global logger
	tests := []struct {
		name     string
		mod      LogMod
		level    zapcore.Level
		expected zapcore.Level
	}{
		{
			name:     "production honors level",
			mod:      ProductionMod,
			level:    zapcore.InfoLevel,
			expected: zapcore.InfoLevel,
		},
		{
			name:     "development pins debug",
			mod:      DevelopmentMod,
			level:    zapcore.DebugLevel,
			expected: zapcore.DebugLevel,
		},
		{
			name:     "unknown mode falls back to development",
			mod:      "unknown",
			level:    zapcore.WarnLevel,
			expected: zapcore.DebugLevel,
		},
	}

	for _, tt := range tests { //nolint:paralleltest // global logger
		t.Run(tt.name, func(t *testing.T) {
			cfg := newZapCfg(tt.mod, tt.level)
			require.Equal(t, tt.expected, cfg.Level.Level())
		})
	}
}

func TestNewFromConfig(t *testing.T) { //nolint:paralleltest // global logger
	logger := NewFromConfig(&Config{
		LogMod:   DevelopmentMod,
		LogLevel: zapcore.InfoLevel.String(),
	})

	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.Same(t, logger, Global())
}

func TestNewFromConfig_EmptyLevelDefaultsToInfo(t *testing.T) { //nolint:paralleltest // global logger
	logger := NewFromConfig(&Config{LogMod: ProductionMod})

	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestParseMapping(t *testing.T) {
	mapping := parseMapping("orchestrator=debug,valkey=warn,broken")

	require.Len(t, mapping, 2)
	require.Equal(t, LogMod("debug"), mapping["orchestrator"])
	require.Equal(t, LogMod("warn"), mapping["valkey"])
}

func TestNamed(t *testing.T) { //nolint:paralleltest // global logger
	NewFromConfig(&Config{
		LogMod:     ProductionMod,
		LogLevel:   "debug",
		LogMapping: map[string]LogMod{"quiet": "error"},
	})

	named := Named("quiet")
	require.False(t, named.Core().Enabled(zapcore.InfoLevel))
	require.True(t, named.Core().Enabled(zapcore.ErrorLevel))
}

func TestBridges(t *testing.T) { //nolint:paralleltest // global logger
	require.NotNil(t, Slog())
	require.NotNil(t, NamedSlog("bridge"))
	require.NotNil(t, StdLog())
	require.NotNil(t, Zerolog())
}
