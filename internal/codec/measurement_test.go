package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
)

func TestMeasurementToCloudJSON_RootDevice(t *testing.T) {
	in := []byte(`{"temperature":21.5,"time":"2024-01-01T00:00:00Z"}`)

	out, err := codec.MeasurementToCloudJSON(in, "")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))

	assert.Equal(t, "ThinEdgeMeasurement", got["type"])
	assert.Equal(t, "2024-01-01T00:00:00Z", got["time"])
	assert.Equal(t, map[string]any{"temperature": map[string]any{"value": 21.5}}, got["temperature"])
	assert.NotContains(t, got, "externalSource")
}

func TestMeasurementToCloudJSON_Child(t *testing.T) {
	in := []byte(`{"temperature":21.5,"time":"2024-01-01T00:00:00Z"}`)

	out, err := codec.MeasurementToCloudJSON(in, "sensor-a")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))

	assert.Equal(t, map[string]any{
		"externalId": "sensor-a",
		"type":       "c8y_Serial",
	}, got["externalSource"])
}

func TestMeasurementToCloudJSON_GroupedLeaves(t *testing.T) {
	in := []byte(`{"pressure":{"avg":100,"max":120}}`)

	out, err := codec.MeasurementToCloudJSON(in, "")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))

	assert.Equal(t, map[string]any{
		"avg": map[string]any{"value": 100.0},
		"max": map[string]any{"value": 120.0},
	}, got["pressure"])
}

func TestMeasurementToCloudJSON_InvalidJSON(t *testing.T) {
	_, err := codec.MeasurementToCloudJSON([]byte("not json"), "")
	require.Error(t, err)
	var target *codec.InvalidLocalJSONError
	assert.ErrorAs(t, err, &target)
}

func TestMeasurementToCloudJSON_NonNumericLeaf(t *testing.T) {
	_, err := codec.MeasurementToCloudJSON([]byte(`{"temperature":"hot"}`), "")
	require.Error(t, err)
}
