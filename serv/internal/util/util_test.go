package util

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSetKeyValue(t *testing.T) {
	vi := viper.New()
	vi.SetDefault("host_port", "")
	vi.SetDefault("mongo.uri", "")

	assert.True(t, SetKeyValue(vi, "EDM_HOST_PORT", "localhost:1"))
	assert.Equal(t, "localhost:1", vi.GetString("host_port"))

	assert.True(t, SetKeyValue(vi, "EDM_MONGO_URI", "mongodb://db"))
	assert.Equal(t, "mongodb://db", vi.GetString("mongo.uri"))

	assert.False(t, SetKeyValue(vi, "EDM_NOT_A_KEY", "x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug").Level())
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn").Level())
	assert.Equal(t, zap.InfoLevel, ParseLevel("").Level())
	assert.Equal(t, zap.InfoLevel, ParseLevel("chatty").Level())
}

func TestNewLogger(t *testing.T) {
	lvl := zap.NewAtomicLevelAt(zap.ErrorLevel)
	log := NewLoggerWithLevel(true, lvl)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))

	lvl.SetLevel(zap.DebugLevel)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	assert.NotNil(t, NewLogger(false))
}
