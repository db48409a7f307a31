package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesJSONAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "rec.log")

	log, err := New(Options{Level: "warn", File: path, Output: &buf})
	require.NoError(t, err)

	log.Info().Msg("hidden")
	sessionLog := Component(log.Logger, "session")
	sessionLog.Warn().Str("key", "s1").Msg("shown")
	require.NoError(t, log.Close())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"session"`)
	assert.Contains(t, buf.String(), `"key":"s1"`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")
}

func TestOrNop(t *testing.T) {
	nop := OrNop(nil)
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())

	var buf bytes.Buffer
	l := zerolog.New(&buf)
	got := OrNop(&l)
	got.Info().Msg("x")
	assert.Contains(t, buf.String(), `"message":"x"`)
}
