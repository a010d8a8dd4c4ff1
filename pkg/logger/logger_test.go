package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestNewLoggerWithFile(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLoggerWithFile("info", dir)
	require.NoError(t, err)

	log.Info("hello from test")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestNewLoggerWithFile_MissingDir(t *testing.T) {
	log, err := NewLoggerWithFile("info", filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.NotNil(t, log)
}
