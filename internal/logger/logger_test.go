package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("非法级别回退为 info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "loud"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(0))
		assert.False(t, log.Core().Enabled(-1))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "mailroute.log")
		log, err := NewLogger(Config{Level: "debug", File: file})
		require.NoError(t, err)
		log.Info("hello")
		_ = log.Sync()
		assert.FileExists(t, file)
	})
}

func TestNamed(t *testing.T) {
	assert.NotNil(t, Named(nil, "route"))

	log := NewDevelopmentLogger()
	assert.NotNil(t, Named(log, "dispatcher"))
}
