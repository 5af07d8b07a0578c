// internal/logging/levels.go
package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one below Debug (-2; Debug is -1, Info is 0). It is
// meant for payload dumps and per-call detail that production filters
// out.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name into a zapcore.Level. "trace" is
// accepted on top of the names zap knows.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
