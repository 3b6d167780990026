package orchestrator

import "lp_sentinel/internal/core"

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{}) {}
func (m *mockLogger) Info(msg string, fields ...interface{})  {}
func (m *mockLogger) Warn(msg string, fields ...interface{})  {}
func (m *mockLogger) Error(msg string, fields ...interface{}) {}
func (m *mockLogger) Fatal(msg string, fields ...interface{}) {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger {
	return m
}
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger {
	return m
}
