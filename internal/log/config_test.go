package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func withEnv(vals map[string]string, fn func()) {
	orig := envFunc
	envFunc = func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
	defer func() { envFunc = orig }()
	fn()
}

func TestParseLevel(t *testing.T) {
	lv, ok := parseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, zapcore.DebugLevel, lv)

	_, ok = parseLevel("not-a-level")
	assert.False(t, ok)
}

func TestModuleLevel_MostSpecificWins(t *testing.T) {
	withEnv(map[string]string{
		"LOG_LEVEL":                "warn",
		"LOG_LEVEL__SIGNAL":        "info",
		"LOG_LEVEL__SIGNAL__RELAY": "debug",
	}, func() {
		assert.Equal(t, zapcore.DebugLevel, moduleLevel([]string{"Signal", "Relay"}))
		assert.Equal(t, zapcore.InfoLevel, moduleLevel([]string{"Signal"}))
		assert.Equal(t, zapcore.WarnLevel, moduleLevel([]string{"Rooms"}))
	})
}

func TestModuleLevel_Default(t *testing.T) {
	withEnv(map[string]string{}, func() {
		assert.Equal(t, zapcore.InfoLevel, moduleLevel([]string{"Anything"}))
	})
}
