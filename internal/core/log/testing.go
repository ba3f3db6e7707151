package log

import "context"

// NopLogger 静默日志，不输出任何内容
type NopLogger struct{}

func (NopLogger) Debug(args ...interface{})                         {}
func (NopLogger) Info(args ...interface{})                          {}
func (NopLogger) Warn(args ...interface{})                          {}
func (NopLogger) Error(args ...interface{})                         {}
func (NopLogger) Debugf(format string, args ...interface{})         {}
func (NopLogger) Infof(format string, args ...interface{})          {}
func (NopLogger) Warnf(format string, args ...interface{})          {}
func (NopLogger) Errorf(format string, args ...interface{})         {}
func (n NopLogger) WithField(key string, value interface{}) Logger  { return n }
func (n NopLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (n NopLogger) WithError(err error) Logger                      { return n }
func (n NopLogger) WithContext(ctx context.Context) Logger          { return n }

// NewNopLogger 创建静默日志
func NewNopLogger() Logger {
	return NopLogger{}
}

// TestingT 测试接口（兼容 *testing.T）
type TestingT interface {
	Log(args ...interface{})
	Logf(format string, args ...interface{})
}

// TestLogger 测试日志，输出到 testing.T
type TestLogger struct {
	t      TestingT
	fields map[string]interface{}
}

// NewTestLogger 创建测试日志
func NewTestLogger(t TestingT) Logger {
	return &TestLogger{t: t, fields: make(map[string]interface{})}
}

func (l *TestLogger) log(level string, args ...interface{}) {
	if len(l.fields) > 0 {
		args = append(args, l.fields)
	}
	l.t.Log(append([]interface{}{level}, args...)...)
}

func (l *TestLogger) logf(level, format string, args ...interface{}) {
	if len(l.fields) > 0 {
		format += " %v"
		args = append(args, l.fields)
	}
	l.t.Logf(level+" "+format, args...)
}

func (l *TestLogger) Debug(args ...interface{}) { l.log("[DEBUG]", args...) }
func (l *TestLogger) Info(args ...interface{})  { l.log("[INFO]", args...) }
func (l *TestLogger) Warn(args ...interface{})  { l.log("[WARN]", args...) }
func (l *TestLogger) Error(args ...interface{}) { l.log("[ERROR]", args...) }

func (l *TestLogger) Debugf(format string, args ...interface{}) { l.logf("[DEBUG]", format, args...) }
func (l *TestLogger) Infof(format string, args ...interface{})  { l.logf("[INFO]", format, args...) }
func (l *TestLogger) Warnf(format string, args ...interface{})  { l.logf("[WARN]", format, args...) }
func (l *TestLogger) Errorf(format string, args ...interface{}) { l.logf("[ERROR]", format, args...) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{t: l.t, fields: merged}
}

func (l *TestLogger) WithError(err error) Logger {
	return l.WithField("error", err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger {
	return l
}
