package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRecordWireShape(t *testing.T) {
	record := CanonicalRecord{
		ID:              "rec-1",
		WorkspaceID:     "ws-1",
		OwnerID:         "owner-1",
		MeterID:         "meter-1",
		Sensors:         map[string]float64{"ph": 7.1, "temp": 22.3},
		ServerTimestamp: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	// Sensor readings sit flat next to the identity fields, not nested
	// under a container key.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, 7.1, wire["ph"])
	assert.Equal(t, 22.3, wire["temp"])
	assert.Equal(t, "owner-1", wire["ownerId"])
	assert.Equal(t, "meter-1", wire["meterId"])
	assert.NotContains(t, wire, "sensors")

	var got CanonicalRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.OwnerID, got.OwnerID)
	assert.Equal(t, record.Sensors, got.Sensors)
	assert.True(t, record.ServerTimestamp.Equal(got.ServerTimestamp))
}

func TestIsSensorField(t *testing.T) {
	for _, field := range SensorFields {
		assert.True(t, IsSensorField(field))
	}
	assert.False(t, IsSensorField("battery"))
	assert.False(t, IsSensorField(""))
}
