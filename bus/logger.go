package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// ZapLoggerAdapter feeds watermill's internal logging into zap.
type ZapLoggerAdapter struct {
	log *zap.SugaredLogger
}

// NewZapLoggerAdapter wraps a zap logger for watermill.
func NewZapLoggerAdapter(log *zap.Logger) watermill.LoggerAdapter {
	return &ZapLoggerAdapter{log: log.Sugar()}
}

func (a *ZapLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Errorw(msg, append(flatten(fields), "error", err)...)
}

func (a *ZapLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Infow(msg, flatten(fields)...)
}

func (a *ZapLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, flatten(fields)...)
}

func (a *ZapLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, flatten(fields)...)
}

func (a *ZapLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZapLoggerAdapter{log: a.log.With(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []any {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
