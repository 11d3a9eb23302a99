package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("无效级别回退到 info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "ingest.log")
		log, err := New("debug", false, file)
		require.NoError(t, err)
		log.Info("hello")
		_ = log.Sync()
		assert.FileExists(t, file)
	})
}

func TestForMessage(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForMessage(zap.New(core), "run-1", "msg-1").Info("stored")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "msg-1", fields["message_id"])
}

func TestForRunWithNilBase(t *testing.T) {
	assert.NotPanics(t, func() {
		ForRun(nil, "run-1").Info("ignored")
	})
}

func TestLogFileIsJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ingest.log")
	log, err := NewLogger(Config{Level: "info", Development: true, LogFile: file, MaxSize: 1})
	require.NoError(t, err)
	log.Info("stored", zap.String("message_id", "m1"))
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "stored", entry["message"])
	assert.Equal(t, ServiceName, entry["service"])
	assert.Equal(t, "m1", entry["message_id"])
}
