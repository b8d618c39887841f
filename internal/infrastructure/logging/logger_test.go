package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLogFile(t *testing.T, pattern string) string {
	t.Helper()
	files, err := filepath.Glob(pattern)
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	return string(data)
}

func TestZapLogger_WritesStructuredFile(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(&LoggerConfig{FilePath: dir, Level: "info", Logger: "zap", AppName: "watchparty"})

	logger.Info(Room, Command, "room created", map[ExtraKey]any{RoomCode: "ABCD"})
	logger.Debug(Room, Command, "below level", nil)
	_ = logger.Sync()

	out := readLogFile(t, filepath.Join(dir, "*-zap.log"))
	assert.Contains(t, out, `"msg":"room created"`)
	assert.Contains(t, out, `"RoomCode":"ABCD"`)
	assert.Contains(t, out, `"Category":"Room"`)
	assert.Contains(t, out, `"SubCategory":"Command"`)
	assert.NotContains(t, out, "below level")
}

func TestZeroLogger_WritesStructuredFile(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(&LoggerConfig{FilePath: dir, Level: "warn", Logger: "zerolog", AppName: "watchparty"})

	logger.Warn(Redis, Update, "version conflict", map[ExtraKey]any{RoomCode: "ABCD", Attempt: 2})
	logger.Info(Redis, Update, "below level", nil)

	out := readLogFile(t, filepath.Join(dir, "*-zerolog.log"))
	assert.Contains(t, out, `"message":"version conflict"`)
	assert.Contains(t, out, `"Attempt":2`)
	assert.Contains(t, out, `"Category":"Redis"`)
	assert.NotContains(t, out, "below level")
}

func TestNewLogger_UnknownBackendPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewLogger(&LoggerConfig{Logger: "logrus"})
	})
}

func TestWithCategory_DoesNotMutateCallerMap(t *testing.T) {
	extra := map[ExtraKey]any{RoomCode: "ABCD"}

	params := withCategory(Room, Sweep, extra)

	assert.Len(t, extra, 1)
	assert.Equal(t, Room, params["Category"])
	assert.Equal(t, Sweep, params["SubCategory"])
}
