package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReading() *Reading {
	return &Reading{
		UPS: "cellar",
		Vars: map[string]string{
			"battery.charge":        "100",
			"battery.runtime":       "1560",
			"device.model":          "Eaton 5E",
			"input.voltage":         "231.0",
			"input.voltage.nominal": "230",
			"ups.status":            "OL",
			"ups.firmware":          "02.08.0010",
		},
	}
}

func TestReadingAccessors(t *testing.T) {
	r := sampleReading()

	assert.Equal(t, "OL", r.Status())

	v, ok := r.Float("input.voltage")
	assert.True(t, ok)
	assert.Equal(t, 231.0, v)

	runtime, ok := r.Int("battery.runtime")
	assert.True(t, ok)
	assert.Equal(t, int64(1560), runtime)

	_, ok = r.Float("ups.status")
	assert.False(t, ok)
	_, ok = r.Float("missing")
	assert.False(t, ok)
}

func TestReadingTree(t *testing.T) {
	tree := sampleReading().Tree()

	assert.Equal(t, map[string]any{
		"battery": map[string]any{"charge": 100.0, "runtime": 1560.0},
		"device":  map[string]any{"model": "Eaton 5E"},
		"input": map[string]any{
			"voltage": map[string]any{"_value": 231.0, "nominal": 230.0},
		},
		"ups": map[string]any{"status": "OL", "firmware": "02.08.0010"},
	}, tree)
}

func TestReadingTreeLeafBeforeBranch(t *testing.T) {
	r := &Reading{Vars: map[string]string{
		"output.frequency":         "50",
		"output.frequency.nominal": "50",
	}}

	out := r.Tree()["output"].(map[string]any)
	assert.Equal(t, map[string]any{"_value": 50.0, "nominal": 50.0}, out["frequency"])
}

func TestReadingTreeKeepsNonNumericStrings(t *testing.T) {
	r := &Reading{Vars: map[string]string{
		"ups.temperature":     "nan",
		"ups.id":              "Infinity",
		"ups.limit":           "-inf",
		"ups.serial":          "000123",
		"ups.mfr.date":        "0x1p4",
		"battery.charge":      "0",
		"battery.voltage":     "0.5",
		"input.current":       "-1.5e2",
		"ambient.temperature": "-03",
	}}

	tree := r.Tree()
	assert.Equal(t, map[string]any{
		"temperature": "nan",
		"id":          "Infinity",
		"limit":       "-inf",
		"serial":      "000123",
		"mfr":         map[string]any{"date": "0x1p4"},
	}, tree["ups"])
	assert.Equal(t, map[string]any{"charge": 0.0, "voltage": 0.5}, tree["battery"])
	assert.Equal(t, map[string]any{"current": -150.0}, tree["input"])
	assert.Equal(t, map[string]any{"temperature": "-03"}, tree["ambient"])

	_, err := json.Marshal(tree)
	require.NoError(t, err)

	_, ok := r.Float("ups.temperature")
	assert.False(t, ok)
	_, ok = r.Float("ups.id")
	assert.False(t, ok)
}
