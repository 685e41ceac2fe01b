// Package logging builds the loggers of the stub.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/dbgstub/internal/config"
)

// New returns the main logger writing to out.
func New(cfg config.Log, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return logger, nil
}

// Wire returns the logger of the packet trace. It shares the output of
// base but has a level of its own: packets are traced at debug level,
// whatever the level of the rest, as long as the trace is on.
func Wire(base *logrus.Logger, cfg config.Log) *logrus.Entry {
	wire := logrus.New()
	wire.SetOutput(base.Out)
	wire.SetFormatter(base.Formatter)
	wire.SetLevel(base.GetLevel())
	if cfg.Wire && !wire.IsLevelEnabled(logrus.DebugLevel) {
		wire.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(wire).WithField("layer", "wire")
}
