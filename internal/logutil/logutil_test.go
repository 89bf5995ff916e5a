package logutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	assert.NoError(t, Init("debug"))
	assert.NoError(t, Init("info"))
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	lvl, err := ParseLevel("")
	assert.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestParseLevelKnown(t *testing.T) {
	lvl, err := ParseLevel("warn")
	assert.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestParseLevelUnknown(t *testing.T) {
	_, err := ParseLevel("not-a-level")
	assert.Error(t, err)
}
