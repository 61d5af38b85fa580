package alert

import (
	"context"

	"ispbss/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Sink delivers operational alerts. Send never fails from the caller's
// point of view.
type Sink interface {
	Send(ctx context.Context, level Level, title, message string, metadata map[string]any)
}

var Module = fx.Module("alert.module",
	fx.Provide(NewLogSink),
)

var alertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "license_alerts_total",
	Help: "Alerts raised by level and title.",
}, []string{"level", "title"})

func init() {
	prometheus.MustRegister(alertsSent)
}

type logSink struct{}

// NewLogSink returns a Sink that writes alerts to the structured log, where
// the log pipeline routes them by severity.
func NewLogSink() Sink {
	return logSink{}
}

func (logSink) Send(ctx context.Context, level Level, title, message string, metadata map[string]any) {
	alertsSent.WithLabelValues(string(level), title).Inc()

	fields := make([]zap.Field, 0, len(metadata)+2)
	fields = append(fields, zap.String("alert", title), zap.String("alert_level", string(level)))
	for k, v := range metadata {
		fields = append(fields, zap.Any(k, v))
	}

	zapLog := logger.FromContext(ctx)
	switch level {
	case LevelCritical:
		zapLog.Error(message, fields...)
	case LevelWarning:
		zapLog.Warn(message, fields...)
	default:
		zapLog.Info(message, fields...)
	}
}
