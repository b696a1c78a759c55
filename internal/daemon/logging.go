package daemon

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the daemon's logger the way
// _examples/pdonadeo-go-cervino/go-cervino.go configures zap: a
// development config with an AtomicLevel, Info by default and Debug when
// the server is started with -d/--debug.
func newLogger(debug bool) (*zap.SugaredLogger, func(), error) {
	cfg := zap.NewDevelopmentConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}
