package service

import (
	"context"

	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/repository"
)

const defaultRecordLimit = 10

// MeterService is the owner-facing management surface for meter
// metadata and record history.
type MeterService struct {
	meterRepo  repository.MeterRepository
	recordRepo repository.RecordRepository
}

func NewMeterService(meterRepo repository.MeterRepository, recordRepo repository.RecordRepository) *MeterService {
	return &MeterService{meterRepo: meterRepo, recordRepo: recordRepo}
}

func (s *MeterService) List(ctx context.Context, workspaceID, ownerID string) ([]model.Meter, error) {
	meters, err := s.meterRepo.ListByWorkspace(ctx, workspaceID, ownerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return meters, nil
}

func (s *MeterService) Get(ctx context.Context, workspaceID, ownerID, meterID string) (*model.Meter, error) {
	meter, err := s.meterRepo.FindByID(ctx, workspaceID, ownerID, meterID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if meter == nil {
		return nil, apperrors.NotFound("Meter")
	}
	return meter, nil
}

func (s *MeterService) Create(ctx context.Context, params model.CreateMeterParams) (*model.Meter, error) {
	if params.Name == "" {
		return nil, apperrors.MissingRequired("name")
	}

	meter, err := s.meterRepo.Create(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return meter, nil
}

func (s *MeterService) Update(ctx context.Context, workspaceID, ownerID, meterID string, params model.UpdateMeterParams) (*model.Meter, error) {
	meter, err := s.meterRepo.Update(ctx, workspaceID, ownerID, meterID, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if meter == nil {
		return nil, apperrors.NotFound("Meter")
	}
	return meter, nil
}

func (s *MeterService) Delete(ctx context.Context, workspaceID, ownerID, meterID string) (*model.Meter, error) {
	meter, err := s.meterRepo.Delete(ctx, workspaceID, ownerID, meterID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if meter == nil {
		return nil, apperrors.NotFound("Meter")
	}
	return meter, nil
}

// LatestRecords returns the newest canonical records for a meter the
// caller owns.
func (s *MeterService) LatestRecords(ctx context.Context, workspaceID, ownerID, meterID string, limit int) ([]model.CanonicalRecord, error) {
	if limit <= 0 {
		limit = defaultRecordLimit
	}

	meter, err := s.meterRepo.FindByID(ctx, workspaceID, ownerID, meterID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if meter == nil {
		return nil, apperrors.NotFound("Meter")
	}

	records, err := s.recordRepo.LatestByMeter(ctx, workspaceID, ownerID, meterID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return records, nil
}

// SensorHistory returns the newest records carrying a value for one
// named sensor of a meter the caller owns.
func (s *MeterService) SensorHistory(ctx context.Context, workspaceID, ownerID, meterID, sensor string, limit int) ([]model.CanonicalRecord, error) {
	if !model.IsSensorField(sensor) {
		return nil, apperrors.InvalidInput("sensor", "unknown sensor field")
	}
	if limit <= 0 {
		limit = defaultRecordLimit
	}

	meter, err := s.meterRepo.FindByID(ctx, workspaceID, ownerID, meterID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if meter == nil {
		return nil, apperrors.NotFound("Meter")
	}

	records, err := s.recordRepo.LatestSensorByMeter(ctx, workspaceID, ownerID, meterID, sensor, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return records, nil
}
