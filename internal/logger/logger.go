package logger

import "go.uber.org/zap"

// Logger is the logging handle, built once per process. The package keeps
// no global instance: every component that needs to log takes one of
// these as a constructor argument.
type Logger struct {
	*zap.Logger
}

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error"). An empty level defaults to "info".
func New(level string) (*Logger, error) {
	cfg := zap.NewProductionConfig()

	if level != "" {
		lvl, err := zapLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l}, nil
}

func zapLevel(s string) (zap.AtomicLevel, error) {
	var lv zap.AtomicLevel
	if err := lv.UnmarshalText([]byte(s)); err != nil {
		return lv, err
	}
	return lv, nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}
