package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/v0xg/pagepilot/internal/config"
)

func TestInitialize(t *testing.T) {
	t.Run("console with colours", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer
		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "pagepilot",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&buf))

		GetLogger().Named("executor").Info("Clicked")
		out := buf.String()
		assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "pagepilot.executor.")
		assert.Contains(t, out, "Clicked")
	})

	t.Run("json respects level", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "svc"}, zapcore.AddSync(&buf))

		l := GetLogger()
		l.Info("hidden")
		l.Warn("shown", zap.String("request_id", "r1"))

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 1)
		var entry map[string]any
		require.NoError(t, json.Unmarshal(lines[0], &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "svc", entry["logger"])
		assert.Equal(t, "r1", entry["request_id"])
	})

	t.Run("only the first call counts", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var first, second bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))
		GetLogger().Info("once")
		assert.NotEmpty(t, first.String())
		assert.Empty(t, second.String())
	})

	t.Run("file output is json", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		path := filepath.Join(t.TempDir(), "pagepilot.log")
		var console bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&console))
		GetLogger().Info("to file")
		Sync()

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		sc := bufio.NewScanner(f)
		require.True(t, sc.Scan())
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		assert.Equal(t, "to file", entry["msg"])
	})
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	l := GetLogger()
	require.NotNil(t, l)
	assert.NotPanics(t, func() { l.Debug("before init") })
	assert.NotPanics(t, Sync)
}
