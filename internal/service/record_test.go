package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/repository"
)

type mockRecordRepo struct {
	mock.Mock
}

func (m *mockRecordRepo) Insert(ctx context.Context, rec *model.CanonicalRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockRecordRepo) LatestByMeter(ctx context.Context, workspaceID, ownerID, meterID string, limit int) ([]model.CanonicalRecord, error) {
	args := m.Called(ctx, workspaceID, ownerID, meterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CanonicalRecord), args.Error(1)
}

func (m *mockRecordRepo) LatestSensorByMeter(ctx context.Context, workspaceID, ownerID, meterID, sensor string, limit int) ([]model.CanonicalRecord, error) {
	args := m.Called(ctx, workspaceID, ownerID, meterID, sensor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CanonicalRecord), args.Error(1)
}

func (m *mockRecordRepo) WithTx(tx *sqlx.Tx) repository.RecordRepository {
	return m
}

var testIdent = model.DeviceIdentity{
	WorkspaceID: "ws-1",
	OwnerID:     "owner-1",
	MeterID:     "meter-1",
}

func TestRecordAdd(t *testing.T) {
	t.Run("stamps identity and server time", func(t *testing.T) {
		repo := new(mockRecordRepo)
		svc := NewRecordService(repo)

		repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

		before := time.Now().UTC()
		record, err := svc.Add(context.Background(), testIdent, model.TelemetryReading{
			"ph":   7.2,
			"temp": 21.5,
		})
		require.NoError(t, err)

		assert.NotEmpty(t, record.ID)
		assert.Equal(t, "ws-1", record.WorkspaceID)
		assert.Equal(t, "owner-1", record.OwnerID)
		assert.Equal(t, "meter-1", record.MeterID)
		assert.Equal(t, map[string]float64{"ph": 7.2, "temp": 21.5}, record.Sensors)
		assert.False(t, record.ServerTimestamp.Before(before))
		assert.Equal(t, time.UTC, record.ServerTimestamp.Location())
	})

	t.Run("drops unrecognized fields", func(t *testing.T) {
		repo := new(mockRecordRepo)
		svc := NewRecordService(repo)

		repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

		record, err := svc.Add(context.Background(), testIdent, model.TelemetryReading{
			"tds":      412.0,
			"firmware": "v2.1.0",
			"battery":  88.0,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"tds": 412.0}, record.Sensors)
	})

	t.Run("rejects non-numeric sensor field", func(t *testing.T) {
		repo := new(mockRecordRepo)
		svc := NewRecordService(repo)

		_, err := svc.Add(context.Background(), testIdent, model.TelemetryReading{
			"ph": "seven",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("rejects reading with no recognized fields", func(t *testing.T) {
		repo := new(mockRecordRepo)
		svc := NewRecordService(repo)

		_, err := svc.Add(context.Background(), testIdent, model.TelemetryReading{
			"battery": 88.0,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("wraps insert failures as persistence errors", func(t *testing.T) {
		repo := new(mockRecordRepo)
		svc := NewRecordService(repo)

		repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

		_, err := svc.Add(context.Background(), testIdent, model.TelemetryReading{"orp": 350.0})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetCode(err))
	})
}
