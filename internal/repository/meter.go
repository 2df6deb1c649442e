package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aquaminds/meter-relay-go/internal/database"
	"github.com/aquaminds/meter-relay-go/internal/model"
)

// MeterRepository stores meter metadata. Every query is scoped by both
// workspace and owner so one account can never see another's meters.
type MeterRepository interface {
	ListByWorkspace(ctx context.Context, workspaceID, ownerID string) ([]model.Meter, error)
	FindByID(ctx context.Context, workspaceID, ownerID, meterID string) (*model.Meter, error)
	Create(ctx context.Context, params model.CreateMeterParams) (*model.Meter, error)
	Update(ctx context.Context, workspaceID, ownerID, meterID string, params model.UpdateMeterParams) (*model.Meter, error)
	Delete(ctx context.Context, workspaceID, ownerID, meterID string) (*model.Meter, error)
	WithTx(tx *sqlx.Tx) MeterRepository
}

type meterRepo struct {
	db database.DBTX
}

func NewMeterRepository(db *sqlx.DB) MeterRepository {
	return &meterRepo{db: db}
}

func (r *meterRepo) WithTx(tx *sqlx.Tx) MeterRepository {
	return &meterRepo{db: tx}
}

func (r *meterRepo) ListByWorkspace(ctx context.Context, workspaceID, ownerID string) ([]model.Meter, error) {
	var meters []model.Meter
	err := r.db.SelectContext(ctx, &meters, `
		SELECT * FROM meters
		WHERE workspace_id = $1 AND owner_id = $2
		ORDER BY created_at DESC
	`, workspaceID, ownerID)
	return meters, err
}

func (r *meterRepo) FindByID(ctx context.Context, workspaceID, ownerID, meterID string) (*model.Meter, error) {
	var meter model.Meter
	err := r.db.GetContext(ctx, &meter, `
		SELECT * FROM meters
		WHERE id = $1 AND workspace_id = $2 AND owner_id = $3
	`, meterID, workspaceID, ownerID)
	return HandleNotFound(&meter, err)
}

func (r *meterRepo) Create(ctx context.Context, params model.CreateMeterParams) (*model.Meter, error) {
	var meter model.Meter
	err := r.db.GetContext(ctx, &meter, `
		INSERT INTO meters (id, workspace_id, owner_id, name, description, lat, lon)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, uuid.NewString(), params.WorkspaceID, params.OwnerID, params.Name, params.Description, params.Lat, params.Lon)
	if err != nil {
		return nil, err
	}
	return &meter, nil
}

func (r *meterRepo) Update(ctx context.Context, workspaceID, ownerID, meterID string, params model.UpdateMeterParams) (*model.Meter, error) {
	var meter model.Meter
	err := r.db.GetContext(ctx, &meter, `
		UPDATE meters SET
			name = COALESCE($4, name),
			description = COALESCE($5, description),
			lat = COALESCE($6, lat),
			lon = COALESCE($7, lon),
			updated_at = $8
		WHERE id = $1 AND workspace_id = $2 AND owner_id = $3
		RETURNING *
	`, meterID, workspaceID, ownerID, params.Name, params.Description, params.Lat, params.Lon, time.Now())
	return HandleNotFound(&meter, err)
}

func (r *meterRepo) Delete(ctx context.Context, workspaceID, ownerID, meterID string) (*model.Meter, error) {
	var meter model.Meter
	err := r.db.GetContext(ctx, &meter, `
		DELETE FROM meters
		WHERE id = $1 AND workspace_id = $2 AND owner_id = $3
		RETURNING *
	`, meterID, workspaceID, ownerID)
	return HandleNotFound(&meter, err)
}
