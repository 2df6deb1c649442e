package model

import (
	"encoding/json"
	"time"
)

// SensorFields lists the readings a meter is known to report. A raw
// payload must carry at least one of these with a numeric value to be
// accepted.
var SensorFields = []string{"ph", "temp", "tds", "turbidity", "orp", "conductivity"}

// IsSensorField reports whether name is a recognized sensor reading.
func IsSensorField(name string) bool {
	for _, field := range SensorFields {
		if field == name {
			return true
		}
	}
	return false
}

// TelemetryReading is the raw inbound payload from a meter, untyped
// until validated by the record service.
type TelemetryReading map[string]any

// CanonicalRecord is the validated, server-stamped representation of a
// telemetry reading. It is the only shape ever published to
// subscribers. On the wire the sensor readings sit flat alongside the
// identity fields:
//
//	{"id": ..., "ownerId": ..., "meterId": ..., "ph": 7.1, "temp": 22.3, "serverTimestamp": ...}
type CanonicalRecord struct {
	ID              string             `db:"id"`
	WorkspaceID     string             `db:"workspace_id"`
	OwnerID         string             `db:"owner_id"`
	MeterID         string             `db:"meter_id"`
	Sensors         map[string]float64 `db:"-"`
	SensorsJSON     json.RawMessage    `db:"sensors"`
	ServerTimestamp time.Time          `db:"server_timestamp"`
}

func (r CanonicalRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Sensors)+5)
	for name, value := range r.Sensors {
		out[name] = value
	}
	out["id"] = r.ID
	out["workspaceId"] = r.WorkspaceID
	out["ownerId"] = r.OwnerID
	out["meterId"] = r.MeterID
	out["serverTimestamp"] = r.ServerTimestamp
	return json.Marshal(out)
}

func (r *CanonicalRecord) UnmarshalJSON(data []byte) error {
	var fields struct {
		ID              string    `json:"id"`
		WorkspaceID     string    `json:"workspaceId"`
		OwnerID         string    `json:"ownerId"`
		MeterID         string    `json:"meterId"`
		ServerTimestamp time.Time `json:"serverTimestamp"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sensors := make(map[string]float64)
	for name, value := range raw {
		if !IsSensorField(name) {
			continue
		}
		if number, ok := value.(float64); ok {
			sensors[name] = number
		}
	}

	r.ID = fields.ID
	r.WorkspaceID = fields.WorkspaceID
	r.OwnerID = fields.OwnerID
	r.MeterID = fields.MeterID
	r.ServerTimestamp = fields.ServerTimestamp
	r.Sensors = sensors
	return nil
}

// MarshalSensors populates SensorsJSON from Sensors for persistence.
func (r *CanonicalRecord) MarshalSensors() error {
	data, err := json.Marshal(r.Sensors)
	if err != nil {
		return err
	}
	r.SensorsJSON = data
	return nil
}

// UnmarshalSensors populates Sensors from SensorsJSON after a read.
func (r *CanonicalRecord) UnmarshalSensors() error {
	if len(r.SensorsJSON) == 0 {
		r.Sensors = map[string]float64{}
		return nil
	}
	return json.Unmarshal(r.SensorsJSON, &r.Sensors)
}
