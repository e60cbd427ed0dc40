package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Guliveer/nutwatch/internal/metrics"
	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// mockSink implements the Sink interface for testing
type mockSink struct {
	name      string
	acceptErr error
	closeErr  error
	panics    bool
	slow      bool
	received  []*models.Reading
	closed    bool
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Accept(ctx context.Context, r *models.Reading) error {
	if m.panics {
		panic("sink exploded")
	}
	if m.slow {
		<-ctx.Done()
		return ctx.Err()
	}
	m.received = append(m.received, r)
	return m.acceptErr
}

func (m *mockSink) Close() error {
	m.closed = true
	return m.closeErr
}

func reading() *models.Reading {
	return &models.Reading{UPS: "cellar", Vars: map[string]string{"ups.status": "OL"}}
}

func TestDispatch_DeliversToAllSinks(t *testing.T) {
	a, b := &mockSink{name: "a"}, &mockSink{name: "b"}
	d := NewDispatcher(zap.NewNop(), nil, 0)
	d.Register(a)
	d.Register(b)

	r := reading()
	d.Dispatch(context.Background(), r)

	assert.Equal(t, []*models.Reading{r}, a.received)
	assert.Equal(t, []*models.Reading{r}, b.received)
	assert.Len(t, d.Sinks(), 2)
}

func TestDispatch_IsolatesFailingSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	failing := &mockSink{name: "influx", acceptErr: errors.New("connection refused")}
	panicking := &mockSink{name: "mqtt", panics: true}
	healthy := &mockSink{name: "log"}

	d := NewDispatcher(zap.New(core), nil, 0)
	d.Register(failing)
	d.Register(panicking)
	d.Register(healthy)

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), reading())
	}

	assert.Len(t, healthy.received, 3)
	assert.Len(t, failing.received, 3)

	failures := logs.FilterMessage("Sink failed to accept reading")
	assert.Equal(t, 3, failures.FilterField(zap.String("sink", "influx")).Len())
	assert.Equal(t, 3, failures.FilterField(zap.String("sink", "mqtt")).Len())
	assert.Equal(t, 0, failures.FilterField(zap.String("sink", "log")).Len())
}

func TestDispatch_TimeoutBoundsSlowSink(t *testing.T) {
	slow := &mockSink{name: "slow", slow: true}
	next := &mockSink{name: "next"}

	d := NewDispatcher(zap.NewNop(), nil, 5*time.Millisecond)
	d.Register(slow)
	d.Register(next)

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), reading())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on slow sink")
	}
	assert.Len(t, next.received, 1)
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatcher(zap.NewNop(), metrics.New(reg), 0)
	d.Register(&mockSink{name: "bad", acceptErr: errors.New("nope")})
	d.Register(&mockSink{name: "good"})

	d.Dispatch(context.Background(), reading())

	families, err := reg.Gather()
	require.NoError(t, err)
	var deliveries int
	for _, f := range families {
		if f.GetName() == "nutwatch_sink_deliveries_total" {
			deliveries = len(f.GetMetric())
		}
	}
	assert.Equal(t, 2, deliveries)
}

func TestCloseAll_ContinuesPastFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := &mockSink{name: "a", closeErr: errors.New("flush failed")}
	b := &mockSink{name: "b"}
	c := &mockSink{name: "c", closeErr: errors.New("already closed")}

	d := NewDispatcher(zap.New(core), nil, 0)
	d.Register(a)
	d.Register(b)
	d.Register(c)

	err := d.CloseAll()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.True(t, c.closed)

	var sinkErr *SinkError
	require.True(t, errors.As(multierr.Errors(err)[0], &sinkErr))
	assert.Equal(t, "a", sinkErr.Sink)
	assert.Equal(t, "close", sinkErr.Op)

	assert.Equal(t, 1, logs.FilterMessage("Sink closed").Len())
	assert.Equal(t, 2, logs.FilterMessage("Failed to close sink").Len())
}

var testModel = schema.FieldModel{
	"URL":   {Type: schema.String, Required: true},
	"LEVEL": {Type: schema.String, Default: "info"},
}

func TestCatalog_Add(t *testing.T) {
	tests := []struct {
		name        string
		factory     Factory
		errContains string
	}{
		{"valid", Factory{Name: "log", New: func(schema.Values, Deps) (Sink, error) { return nil, nil }}, ""},
		{"empty name", Factory{New: func(schema.Values, Deps) (Sink, error) { return nil, nil }}, "name cannot be empty"},
		{"nil constructor", Factory{Name: "log"}, "constructor cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCatalog().Add(tt.factory)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errContains)
		})
	}
}

func newTestCatalog(t *testing.T, created *[]string, failOn string) *Catalog {
	c := NewCatalog()
	for _, name := range []string{"influx", "mqtt", "log"} {
		name := name
		require.NoError(t, c.Add(Factory{
			Name:  name,
			Model: testModel,
			New: func(cfg schema.Values, deps Deps) (Sink, error) {
				if name == failOn {
					return nil, errors.New("dial failed")
				}
				*created = append(*created, name)
				return &mockSink{name: name}, nil
			},
		}))
	}
	return c
}

func TestCatalog_Build(t *testing.T) {
	var created []string
	c := newTestCatalog(t, &created, "")

	env := map[string]schema.Raw{
		"influx": {"URL": "http://influx:8086"},
		"log":    {"URL": "stdout", "LEVEL": "debug"},
	}
	sinks, err := c.Build([]string{"log", "influx"}, func(ns string) schema.Raw { return env[ns] }, Deps{Logger: zap.NewNop()})
	require.NoError(t, err)

	require.Len(t, sinks, 2)
	assert.Equal(t, "log", sinks[0].Name())
	assert.Equal(t, "influx", sinks[1].Name())
	assert.Equal(t, []string{"log", "influx"}, created)
	assert.Equal(t, []string{"influx", "log", "mqtt"}, c.Names())
}

func TestCatalog_BuildAggregatesErrors(t *testing.T) {
	var created []string
	c := newTestCatalog(t, &created, "")

	_, err := c.Build([]string{"influx", "mqtt", "kafka", "influx"}, func(string) schema.Raw { return schema.Raw{} }, Deps{})
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 4)

	var cfgErr *schema.ConfigError
	require.True(t, errors.As(errs[0], &cfgErr))
	assert.Equal(t, "influx", cfgErr.Namespace)
	require.True(t, errors.As(errs[1], &cfgErr))
	assert.Equal(t, "mqtt", cfgErr.Namespace)
	assert.Contains(t, errs[2].Error(), `unknown sink "kafka"`)
	assert.Contains(t, errs[3].Error(), "configured twice")
	assert.Empty(t, created)
}

func TestCatalog_BuildClosesOnConstructorFailure(t *testing.T) {
	var created []string
	c := newTestCatalog(t, &created, "mqtt")

	sinks, err := c.Build([]string{"influx", "mqtt"}, func(string) schema.Raw { return schema.Raw{"URL": "x"} }, Deps{})
	assert.Nil(t, sinks)
	assert.ErrorContains(t, err, "failed to create sink mqtt")
	assert.Equal(t, []string{"influx"}, created)
}
