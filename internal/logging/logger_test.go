package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	logger.Error("boom", "error", "bad things")

	assert.Contains(t, buf.String(), "err=\"bad things\"")
	assert.NotContains(t, buf.String(), "error=")
}

func TestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Level(true))
	assert.Equal(t, slog.LevelInfo, Level(false))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "abcde...vwxyz", MaskSecret("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "*****", MaskSecret("short"))
}
