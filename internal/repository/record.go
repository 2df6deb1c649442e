package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/aquaminds/meter-relay-go/internal/database"
	"github.com/aquaminds/meter-relay-go/internal/model"
)

// RecordRepository persists canonical telemetry records and serves the
// history queries behind the meters API.
type RecordRepository interface {
	Insert(ctx context.Context, rec *model.CanonicalRecord) error
	LatestByMeter(ctx context.Context, workspaceID, ownerID, meterID string, limit int) ([]model.CanonicalRecord, error)
	LatestSensorByMeter(ctx context.Context, workspaceID, ownerID, meterID, sensor string, limit int) ([]model.CanonicalRecord, error)
	WithTx(tx *sqlx.Tx) RecordRepository
}

type recordRepo struct {
	db database.DBTX
}

func NewRecordRepository(db *sqlx.DB) RecordRepository {
	return &recordRepo{db: db}
}

func (r *recordRepo) WithTx(tx *sqlx.Tx) RecordRepository {
	return &recordRepo{db: tx}
}

func (r *recordRepo) Insert(ctx context.Context, rec *model.CanonicalRecord) error {
	if err := rec.MarshalSensors(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (id, workspace_id, owner_id, meter_id, sensors, server_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.WorkspaceID, rec.OwnerID, rec.MeterID, rec.SensorsJSON, rec.ServerTimestamp)
	return err
}

func (r *recordRepo) LatestByMeter(ctx context.Context, workspaceID, ownerID, meterID string, limit int) ([]model.CanonicalRecord, error) {
	var records []model.CanonicalRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM records
		WHERE workspace_id = $1 AND owner_id = $2 AND meter_id = $3
		ORDER BY server_timestamp DESC
		LIMIT $4
	`, workspaceID, ownerID, meterID, limit)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := records[i].UnmarshalSensors(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// LatestSensorByMeter returns the newest records that carry a value for
// one sensor. The jsonb existence operator keeps the filter in the
// database, so the limit counts matching records only.
func (r *recordRepo) LatestSensorByMeter(ctx context.Context, workspaceID, ownerID, meterID, sensor string, limit int) ([]model.CanonicalRecord, error) {
	var records []model.CanonicalRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM records
		WHERE workspace_id = $1 AND owner_id = $2 AND meter_id = $3
		AND sensors ? $4
		ORDER BY server_timestamp DESC
		LIMIT $5
	`, workspaceID, ownerID, meterID, sensor, limit)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := records[i].UnmarshalSensors(); err != nil {
			return nil, err
		}
	}
	return records, nil
}
