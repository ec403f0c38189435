package logger

import (
	"io/fs"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-zap/types"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("bogus"))
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(&types.LoggerConfig{Type: "missing", Level: "info"})
	require.ErrorIs(t, err, types.ErrLoggerTypeUnknown)
}

func TestRegisterLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	RegisterLogger("observed", func(interface{}) (types.Logger, error) {
		return NewZapWrapper(zap.New(core)), nil
	})

	l, err := New(&types.LoggerConfig{Type: "observed", Level: "info"})
	require.NoError(t, err)

	l.With(zap.String("handler", "hello")).Info("ran")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "ran", entry.Message)
	assert.Equal(t, "hello", entry.ContextMap()["handler"])
}

func TestErrorWithErrStack(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := NewZapWrapper(zap.New(core)).(*ZapWrapper)

	l.ErrorWithErrStack("boom", errors.New("bad"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "bad", fields["error"])
	assert.Contains(t, fields["stack"], "TestErrorWithErrStack")
}

func TestFileOutputUnderRegularFile(t *testing.T) {
	blocker := t.TempDir() + "/blocker"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := New(&types.LoggerConfig{
		Level:  "info",
		Config: map[string]interface{}{"output": "file", "file": blocker + "/logs/zap.log"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create logger")

	var pathErr *fs.PathError
	assert.ErrorAs(t, err, &pathErr)
}

func TestFileOutput(t *testing.T) {
	file := t.TempDir() + "/logs/zap.log"
	l, err := New(&types.LoggerConfig{
		Level:  "debug",
		Config: map[string]interface{}{"format": "json", "output": "file", "file": file},
	})
	require.NoError(t, err)
	l.Info("written")
	require.NoError(t, l.Sync())
	assert.FileExists(t, file)
}
