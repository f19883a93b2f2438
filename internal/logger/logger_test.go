package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func Test_NewLogger(t *testing.T) {
	t.Run("Should enable debug only when asked", func(t *testing.T) {
		l, err := NewLogger(&LoggerConfig{Debug: false})
		assert.Nil(t, err)
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

		l, err = NewLogger(&LoggerConfig{Debug: true, Json: true})
		assert.Nil(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})
	t.Run("Should tag every entry with the service name", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		l, err := NewLogger(&LoggerConfig{}, zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
		assert.Nil(t, err)

		l.Info("hello")
		entries := logs.All()
		assert.Len(t, entries, 1)
		assert.Equal(t, serviceName, entries[0].ContextMap()["service"])
	})
}
