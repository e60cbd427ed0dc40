// Package mqtt publishes UPS readings to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Model is the MQTT_* configuration.
var Model = schema.FieldModel{
	"BROKER":    {Type: schema.String, Required: true, Pattern: `(tcp|ssl|ws|wss)://.+`},
	"TOPIC":     {Type: schema.String, Default: "nut"},
	"CLIENT_ID": {Type: schema.String, Default: "nutwatch"},
	"USERNAME":  {Type: schema.String},
	"PASSWORD":  {Type: schema.String},
	"QOS":       {Type: schema.Number, Default: float64(0)},
	"RETAIN":    {Type: schema.Boolean, Default: false},
	"SPLIT":     {Type: schema.Boolean, Default: false},
}

const publishTimeout = 5 * time.Second

// Factory registers the sink in a plugin.Catalog.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:      "mqtt",
		Namespace: "mqtt",
		Model:     Model,
		New: func(cfg schema.Values, deps plugin.Deps) (plugin.Sink, error) {
			qos, _ := cfg.Int("QOS")
			if qos < 0 || qos > 2 {
				return nil, fmt.Errorf("mqtt.QOS must be 0, 1 or 2, got %d", qos)
			}
			retain, _ := cfg.Bool("RETAIN")
			split, _ := cfg.Bool("SPLIT")
			return New(Config{
				Broker:   cfg.StringOr("BROKER", ""),
				Topic:    cfg.StringOr("TOPIC", "nut"),
				ClientID: cfg.StringOr("CLIENT_ID", "nutwatch"),
				Username: cfg.StringOr("USERNAME", ""),
				Password: cfg.StringOr("PASSWORD", ""),
				QoS:      byte(qos),
				Retain:   retain,
				Split:    split,
			}, deps.Logger), nil
		},
	}
}

// Config holds the broker connection and publishing settings.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
	Split    bool
}

// publisher is the subset of paho.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Sink publishes readings as JSON documents, or one message per variable
// when Split is set.
type Sink struct {
	client publisher
	cfg    Config
	logger *zap.Logger
}

// New starts connecting to the broker in the background. Publishing before
// the connection is up queues the message in the client.
func New(cfg Config, logger *zap.Logger) *Sink {
	logger = logger.Named("mqtt")

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("Connected to broker", zap.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("Connection to broker lost", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	client.Connect()

	return &Sink{client: client, cfg: cfg, logger: logger}
}

func (s *Sink) Name() string { return "mqtt" }

func (s *Sink) Accept(ctx context.Context, r *models.Reading) error {
	base := s.cfg.Topic + "/" + r.UPS

	if !s.cfg.Split {
		payload, err := json.Marshal(r.Tree())
		if err != nil {
			return fmt.Errorf("failed to encode reading: %w", err)
		}
		return s.publish(ctx, base, payload)
	}

	for _, name := range r.Names() {
		topic := base + "/" + strings.ReplaceAll(name, ".", "/")
		if err := s.publish(ctx, topic, []byte(r.Vars[name])); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) publish(ctx context.Context, topic string, payload []byte) error {
	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish to %s timed out after %s", topic, publishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages a short grace period.
func (s *Sink) Close() error {
	s.client.Disconnect(250)
	s.logger.Info("Disconnected from broker")
	return nil
}
