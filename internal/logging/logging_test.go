package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dbgstub/internal/config"
)

func TestNew(t *testing.T) {
	out := &bytes.Buffer{}
	logger, err := New(config.Log{Level: "warn"}, out)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.WithField("pid", 42).Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "pid=42")

	_, err = New(config.Log{Level: "chatty"}, out)
	assert.Error(t, err)
}

func TestWire(t *testing.T) {
	out := &bytes.Buffer{}
	base, err := New(config.Log{Level: "info"}, out)
	require.NoError(t, err)

	Wire(base, config.Log{Level: "info"}).Debug("quiet packet")
	assert.NotContains(t, out.String(), "quiet packet")

	Wire(base, config.Log{Level: "info", Wire: true}).Debug("$OK#9a")
	assert.Contains(t, out.String(), "$OK#9a")
	assert.Contains(t, out.String(), "layer=wire")
	assert.Equal(t, logrus.InfoLevel, base.GetLevel(), "the main logger keeps its level")
}
