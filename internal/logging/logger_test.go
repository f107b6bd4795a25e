package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	t.Setenv(LevelEnv, "")

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, New(&bytes.Buffer{}, tt.level).GetLevel())
		})
	}
}

func TestNew_EnvOverride(t *testing.T) {
	t.Setenv(LevelEnv, "error")
	assert.Equal(t, zerolog.ErrorLevel, New(&bytes.Buffer{}, "debug").GetLevel())
}

func TestNew_AddsServiceField(t *testing.T) {
	t.Setenv(LevelEnv, "")
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"service":"nicd"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
