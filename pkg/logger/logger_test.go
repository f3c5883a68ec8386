package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestInitWithFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ampd.log")

	err := Init(Config{Level: "debug", Format: "json", File: logPath})
	require.NoError(t, err)
	defer Close()

	Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "hello")
}

func TestInitBadFile(t *testing.T) {
	err := Init(Config{Level: "info", File: filepath.Join(t.TempDir(), "missing", "dir", "ampd.log")})
	assert.Error(t, err)
}

func TestGetBeforeInit(t *testing.T) {
	// Get must always return a usable logger.
	l := Get()
	require.NotNil(t, l)
	l.Debug().Msg("no-op")
}

func TestWithFields(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", Format: "json"}))
	defer Close()

	l := With(map[string]any{"session_id": "sess_1"})
	require.NotNil(t, l)
}
