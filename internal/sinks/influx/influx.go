// Package influx writes UPS readings to InfluxDB 2.x as ups, input and output
// points tagged with the host name.
package influx

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Model is the INFLUX_* configuration.
var Model = schema.FieldModel{
	"URL":    {Type: schema.String, Required: true, Pattern: `https?://.+`},
	"ORG":    {Type: schema.String, Required: true},
	"TOKEN":  {Type: schema.String, Required: true},
	"BUCKET": {Type: schema.String, Required: true},
	"HOST":   {Type: schema.String, Default: ""},
}

// Factory registers the sink in a plugin.Catalog.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:      "influx",
		Namespace: "influx",
		Model:     Model,
		New: func(cfg schema.Values, deps plugin.Deps) (plugin.Sink, error) {
			return New(Config{
				URL:    cfg.StringOr("URL", ""),
				Org:    cfg.StringOr("ORG", ""),
				Token:  cfg.StringOr("TOKEN", ""),
				Bucket: cfg.StringOr("BUCKET", ""),
				Host:   cfg.StringOr("HOST", ""),
			}, deps.Logger), nil
		},
	}
}

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Org    string
	Token  string
	Bucket string
	Host   string
}

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes readings through a blocking write API so failures surface on
// the Accept call that caused them.
type Sink struct {
	client  influxdb2.Client
	writer  pointWriter
	host    string
	logger  *zap.Logger
	written int
}

// New creates a client for cfg. The connection is established lazily on the
// first write.
func New(cfg Config, logger *zap.Logger) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		host:   cfg.Host,
		logger: logger.Named("influx"),
	}
}

func (s *Sink) Name() string { return "influx" }

func (s *Sink) Accept(ctx context.Context, r *models.Reading) error {
	points := Points(r, s.host)
	if len(points) == 0 {
		s.logger.Warn("Reading has no fields to write", zap.String("ups", r.UPS))
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return err
	}
	s.written += len(points)
	return nil
}

// Close releases the client. Writes are blocking, so nothing is pending.
func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	s.logger.Info("Influx sink closed", zap.Int("points_written", s.written))
	return nil
}

// Points maps a reading onto the ups, input and output measurements. The host
// tag defaults to the UPS model when host is empty. Variables missing from the
// reading are skipped, and a measurement without fields is dropped.
func Points(r *models.Reading, host string) []*write.Point {
	if host == "" {
		host, _ = r.String("device.model")
	}
	tags := map[string]string{"host": host, "ups": r.UPS}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ups := make(map[string]interface{})
	if v, ok := r.Int("ups.realpower"); ok {
		ups["realpower"] = v
	}
	if v, ok := r.String("ups.status"); ok {
		ups["status"] = v
	}
	if v, ok := r.Int("battery.runtime"); ok {
		ups["runtime"] = v
	}

	input := make(map[string]interface{})
	if v, ok := r.Float("input.frequency"); ok {
		input["frequency"] = v
	}
	if v, ok := r.Float("input.voltage"); ok {
		input["voltage"] = v
	}

	output := make(map[string]interface{})
	if v, ok := r.Float("output.frequency"); ok {
		output["frequency"] = v
	}
	if v, ok := r.Float("output.voltage"); ok {
		output["voltage"] = v
	}

	var points []*write.Point
	for _, m := range []struct {
		name   string
		fields map[string]interface{}
	}{{"ups", ups}, {"input", input}, {"output", output}} {
		if len(m.fields) == 0 {
			continue
		}
		points = append(points, influxdb2.NewPoint(m.name, tags, m.fields, ts))
	}
	return points
}
