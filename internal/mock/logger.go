package mock

import "github.com/0Smallcat0/ai-trading-sub017/internal/core"

// Logger is a silent core.ILogger for tests
type Logger struct{}

func (Logger) Debug(msg string, fields ...interface{})            {}
func (Logger) Info(msg string, fields ...interface{})             {}
func (Logger) Warn(msg string, fields ...interface{})             {}
func (Logger) Error(msg string, fields ...interface{})            {}
func (Logger) Fatal(msg string, fields ...interface{})            {}
func (l Logger) WithField(k string, v interface{}) core.ILogger   { return l }
func (l Logger) WithFields(f map[string]interface{}) core.ILogger { return l }
