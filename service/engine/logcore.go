package engine

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veltis/measure/service/ipc"
)

// ipcCore is a zapcore.Core shipping every record over the worker channel so
// the parent process owns all log output.
type ipcCore struct {
	channel ipc.Channel
	enab    zapcore.LevelEnabler
	fields  []zapcore.Field
}

// NewIPCLogger returns a logger whose records cross the process boundary as
// log messages.
func NewIPCLogger(channel ipc.Channel) *zap.Logger {
	return zap.New(&ipcCore{channel: channel, enab: zapcore.DebugLevel})
}

func (c *ipcCore) Enabled(level zapcore.Level) bool {
	return c.enab.Enabled(level)
}

func (c *ipcCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &ipcCore{channel: c.channel, enab: c.enab}
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return clone
}

func (c *ipcCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *ipcCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	encoder := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(encoder)
	}
	for _, f := range fields {
		f.AddTo(encoder)
	}
	record := &ipc.LogRecord{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
	}
	if len(encoder.Fields) > 0 {
		record.Fields = make(map[string]string, len(encoder.Fields))
		for k, v := range encoder.Fields {
			record.Fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return c.channel.Send(&ipc.Message{Kind: ipc.KindLog, Log: record})
}

func (c *ipcCore) Sync() error { return nil }

// replayRecord forwards a worker log record through the parent logger at the
// original level.
func replayRecord(logger *zap.Logger, record *ipc.LogRecord) {
	fields := make([]zap.Field, 0, len(record.Fields)+1)
	for k, v := range record.Fields {
		fields = append(fields, zap.String(k, v))
	}
	var level zapcore.Level
	if err := level.Set(record.Level); err != nil {
		level = zapcore.InfoLevel
	}
	if level > zapcore.ErrorLevel {
		// replaying a worker fatal must not kill the parent
		level = zapcore.ErrorLevel
	}
	if entry := logger.Check(level, record.Message); entry != nil {
		entry.Write(fields...)
	}
}
