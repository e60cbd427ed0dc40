// Package nut reads UPS status from a Network UPS Tools server by running
// upsc and parsing its "name: value" output into a models.Reading.
package nut

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Namespace is the environment prefix of the reading-source settings.
const Namespace = "nut"

// Model is the declarative shape of the NUT_* settings.
var Model = schema.FieldModel{
	"IP": {
		Type:        schema.String,
		Default:     "127.0.0.1",
		Pattern:     schema.IPv4Pattern,
		Description: "upsd address",
	},
	"PORT": {
		Type:        schema.String,
		Default:     "3493",
		Pattern:     schema.PortPattern,
		Description: "upsd port",
	},
	"UPS_NAME": {
		Type:        schema.String,
		Required:    true,
		Pattern:     schema.NamePattern,
		Description: "UPS name as declared in ups.conf",
	},
	"INTERVAL": {
		Type:        schema.Number,
		Default:     float64(20000),
		Description: "poll interval in milliseconds",
	},
	"RETRIES": {
		Type:        schema.Number,
		Default:     float64(5),
		Description: "consecutive failures tolerated before exiting",
	},
	"TIMEOUT": {
		Type:        schema.Number,
		Default:     float64(10000),
		Description: "upsc timeout in milliseconds, 0 disables",
	},
	"UPSC": {
		Type:        schema.String,
		Default:     "upsc",
		Description: "upsc binary",
	},
}

// ErrEmptyReading is returned when upsc succeeds but prints no variables.
var ErrEmptyReading = errors.New("upsc returned no variables")

// Config is the typed reading-source configuration.
type Config struct {
	IP       string
	Port     string
	Name     string
	Interval time.Duration
	Retries  int
	Timeout  time.Duration
	Command  string
}

// Target is the upsc device argument, name@host:port.
func (c Config) Target() string {
	return fmt.Sprintf("%s@%s:%s", c.Name, c.IP, c.Port)
}

// LoadConfig validates raw against Model.
func LoadConfig(raw schema.Raw) (Config, error) {
	values, err := schema.Validate(Model, raw, Namespace)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		IP:      values.StringOr("IP", ""),
		Port:    values.StringOr("PORT", ""),
		Name:    values.StringOr("UPS_NAME", ""),
		Command: values.StringOr("UPSC", "upsc"),
	}
	cfg.Interval, _ = values.Duration("INTERVAL")
	cfg.Timeout, _ = values.Duration("TIMEOUT")
	if cfg.Retries, err = values.Whole("RETRIES"); err != nil {
		return Config{}, fmt.Errorf("%s.%w", Namespace, err)
	}

	if cfg.Interval <= 0 {
		return Config{}, fmt.Errorf("%s.INTERVAL must be positive", Namespace)
	}
	if cfg.Retries < 0 {
		return Config{}, fmt.Errorf("%s.RETRIES must not be negative", Namespace)
	}
	return cfg, nil
}

// runner executes a command and returns its stdout and stderr.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Client fetches readings by shelling out to upsc.
type Client struct {
	cfg    Config
	logger *zap.Logger
	run    runner
	now    func() time.Time
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		run:    execRun,
		now:    time.Now,
	}
}

// Fetch runs upsc once and parses the result. Anything written to stderr is
// treated as a failure, as is an empty variable list.
func (c *Client) Fetch(ctx context.Context) (*models.Reading, error) {
	stdout, stderr, err := c.run(ctx, c.cfg.Command, c.cfg.Target())
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return nil, fmt.Errorf("upsc %s: %s", c.cfg.Target(), msg)
	}
	if err != nil {
		return nil, fmt.Errorf("upsc %s: %w", c.cfg.Target(), err)
	}

	vars, err := Parse(stdout)
	if err != nil {
		return nil, fmt.Errorf("parse upsc output: %w", err)
	}
	if len(vars) == 0 {
		return nil, ErrEmptyReading
	}

	c.logger.Debug("Read UPS variables",
		zap.String("ups", c.cfg.Name),
		zap.Int("variables", len(vars)))

	return &models.Reading{
		UPS:       c.cfg.Name,
		Timestamp: c.now().UTC(),
		Vars:      vars,
	}, nil
}

// Parse turns upsc output ("battery.charge: 100" per line) into a variable
// map. Blank lines are ignored; any other line without a separator fails.
func Parse(out []byte) (map[string]string, error) {
	vars := make(map[string]string)
	for i, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("line %d: unexpected %q", i+1, line)
		}
		vars[name] = strings.TrimSpace(value)
	}
	return vars, nil
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
