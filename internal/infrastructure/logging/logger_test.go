package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "warn", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Named("fetch").Warn("kept", zap.String("url", "https://example.com/"))
	logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"message":"kept"`)
	assert.Contains(t, lines[0], `"logger":"fetch"`)
	assert.Contains(t, lines[0], `"service":"webfetch"`)
	assert.Contains(t, lines[0], `"url":"https://example.com/"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestConstructors(t *testing.T) {
	assert.NotNil(t, NewDefault().Logger)
	assert.NotNil(t, NewDevelopment().Logger)
	nop := NewNop()
	nop.Info("ignored")
	nop.Sync()
}
