// Package logsink writes a one-line summary of every reading to the agent's
// logger. It needs no external service, which makes it the default sink.
package logsink

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Model is the LOG_* configuration.
var Model = schema.FieldModel{
	"LEVEL": {Type: schema.String, Default: "info", Pattern: "debug|info|warn"},
}

// Factory registers the sink in a plugin.Catalog.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:      "log",
		Namespace: "log",
		Model:     Model,
		New: func(cfg schema.Values, deps plugin.Deps) (plugin.Sink, error) {
			level, err := zapcore.ParseLevel(cfg.StringOr("LEVEL", "info"))
			if err != nil {
				return nil, err
			}
			return New(deps.Logger, level), nil
		},
	}
}

// Sink logs readings.
type Sink struct {
	logger *zap.Logger
	level  zapcore.Level
}

// New creates a log sink writing at level.
func New(logger *zap.Logger, level zapcore.Level) *Sink {
	return &Sink{logger: logger.Named("reading"), level: level}
}

func (s *Sink) Name() string { return "log" }

func (s *Sink) Accept(_ context.Context, r *models.Reading) error {
	fields := []zap.Field{
		zap.String("ups", r.UPS),
		zap.String("status", r.Status()),
	}
	for _, name := range []string{"battery.charge", "battery.runtime", "ups.load", "input.voltage"} {
		if v, ok := r.Float(name); ok {
			fields = append(fields, zap.Float64(name, v))
		}
	}

	if ce := s.logger.Check(s.level, "UPS reading"); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (s *Sink) Close() error { return nil }
