package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aquaminds/meter-relay-go/internal/database"
	"github.com/aquaminds/meter-relay-go/internal/model"
)

// PairingSecretRepository is the durable store for outstanding
// one-time pairing passwords.
type PairingSecretRepository interface {
	FindByPassword(ctx context.Context, password int) (*model.PairingSecret, error)
	FindPendingByMeter(ctx context.Context, workspaceID, meterID string) (*model.PairingSecret, error)
	Create(ctx context.Context, params model.CreatePairingSecretParams) (*model.PairingSecret, error)
	// Redeem atomically claims the secret for the given password.
	// It returns nil when the password is absent, expired or already
	// claimed; concurrent calls for the same password yield the
	// secret to exactly one caller.
	Redeem(ctx context.Context, password int) (*model.PairingSecret, error)
	Discard(ctx context.Context, id string) error
	DeletePendingByMeter(ctx context.Context, workspaceID, meterID string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PairingSecretRepository
}

type pairingSecretRepo struct {
	db database.DBTX
}

func NewPairingSecretRepository(db *sqlx.DB) PairingSecretRepository {
	return &pairingSecretRepo{db: db}
}

func (r *pairingSecretRepo) WithTx(tx *sqlx.Tx) PairingSecretRepository {
	return &pairingSecretRepo{db: tx}
}

func (r *pairingSecretRepo) FindByPassword(ctx context.Context, password int) (*model.PairingSecret, error) {
	var ps model.PairingSecret
	err := r.db.GetContext(ctx, &ps, `
		SELECT * FROM pairing_secrets
		WHERE password = $1 AND redeemed_at IS NULL AND expires_at > NOW()
	`, password)
	return HandleNotFound(&ps, err)
}

func (r *pairingSecretRepo) FindPendingByMeter(ctx context.Context, workspaceID, meterID string) (*model.PairingSecret, error) {
	var ps model.PairingSecret
	err := r.db.GetContext(ctx, &ps, `
		SELECT * FROM pairing_secrets
		WHERE workspace_id = $1 AND meter_id = $2
		AND redeemed_at IS NULL AND expires_at > NOW()
	`, workspaceID, meterID)
	return HandleNotFound(&ps, err)
}

func (r *pairingSecretRepo) Create(ctx context.Context, params model.CreatePairingSecretParams) (*model.PairingSecret, error) {
	var ps model.PairingSecret
	err := r.db.GetContext(ctx, &ps, `
		INSERT INTO pairing_secrets (id, password, workspace_id, owner_id, meter_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, uuid.NewString(), params.Password, params.WorkspaceID, params.OwnerID, params.MeterID, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (r *pairingSecretRepo) Redeem(ctx context.Context, password int) (*model.PairingSecret, error) {
	var ps model.PairingSecret
	err := r.db.GetContext(ctx, &ps, `
		UPDATE pairing_secrets SET redeemed_at = NOW()
		WHERE password = $1 AND redeemed_at IS NULL AND expires_at > NOW()
		RETURNING *
	`, password)
	return HandleNotFound(&ps, err)
}

func (r *pairingSecretRepo) Discard(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_secrets WHERE id = $1
	`, id)
	return err
}

func (r *pairingSecretRepo) DeletePendingByMeter(ctx context.Context, workspaceID, meterID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_secrets
		WHERE workspace_id = $1 AND meter_id = $2 AND redeemed_at IS NULL
	`, workspaceID, meterID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *pairingSecretRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_secrets
		WHERE expires_at < NOW() OR redeemed_at IS NOT NULL
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
