package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/repository"
)

// RecordService turns raw meter readings into canonical records: it
// validates the payload shape, stamps server time, and persists the
// result. Failures are reported per reading and never tear down the
// ingest connection.
type RecordService struct {
	repo repository.RecordRepository
}

func NewRecordService(repo repository.RecordRepository) *RecordService {
	return &RecordService{repo: repo}
}

func (s *RecordService) Add(ctx context.Context, ident model.DeviceIdentity, raw model.TelemetryReading) (*model.CanonicalRecord, error) {
	sensors, err := extractSensors(raw)
	if err != nil {
		return nil, err
	}

	record := &model.CanonicalRecord{
		ID:              uuid.NewString(),
		WorkspaceID:     ident.WorkspaceID,
		OwnerID:         ident.OwnerID,
		MeterID:         ident.MeterID,
		Sensors:         sensors,
		ServerTimestamp: time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, apperrors.Persistence(err)
	}

	log.Debug().
		Str("recordId", record.ID).
		Str("meterId", ident.MeterID).
		Int("sensorCount", len(sensors)).
		Msg("record persisted")

	return record, nil
}

// extractSensors keeps the recognized numeric sensor fields from a raw
// reading. A payload with none of them is rejected; unrecognized keys
// are dropped silently so firmware can send extras without breaking.
func extractSensors(raw model.TelemetryReading) (map[string]float64, error) {
	sensors := make(map[string]float64)

	for _, field := range model.SensorFields {
		value, ok := raw[field]
		if !ok {
			continue
		}

		number, ok := value.(float64)
		if !ok {
			return nil, apperrors.ValidationError("Sensor field " + field + " is not numeric")
		}
		sensors[field] = number
	}

	if len(sensors) == 0 {
		return nil, apperrors.ValidationError("Reading carries no recognized sensor fields")
	}

	return sensors, nil
}
