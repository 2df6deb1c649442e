package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/aquaminds/meter-relay-go/internal/config"
	"github.com/aquaminds/meter-relay-go/internal/database"
	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/repository"
)

const (
	// Passwords are 6-digit numbers typed on the meter's keypad.
	passwordMin = 100000
	passwordMax = 999999

	passwordAttempts = 10
)

// DeviceTokenIssuer mints the long-lived meter credential handed out
// at redemption.
type DeviceTokenIssuer interface {
	IssueDevice(ident model.DeviceIdentity, ttl time.Duration) (string, error)
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// PairingService implements the two-step pairing handshake: an owner
// initiates pairing and receives a one-time password; the meter later
// redeems that password for a 30-day credential.
type PairingService struct {
	db         TxRunner
	secretRepo repository.PairingSecretRepository
	meterRepo  repository.MeterRepository
	issuer     DeviceTokenIssuer
	ttl        time.Duration
}

func NewPairingService(
	db TxRunner,
	secretRepo repository.PairingSecretRepository,
	meterRepo repository.MeterRepository,
	issuer DeviceTokenIssuer,
	ttl time.Duration,
) *PairingService {
	return &PairingService{
		db:         db,
		secretRepo: secretRepo,
		meterRepo:  meterRepo,
		issuer:     issuer,
		ttl:        ttl,
	}
}

// CreatePassword initiates pairing for a meter the caller owns. A
// still-pending password for the same meter is invalidated: at most
// one secret per meter is outstanding at a time.
func (s *PairingService) CreatePassword(ctx context.Context, workspaceID, ownerID, meterID string) (int, error) {
	meter, err := s.meterRepo.FindByID(ctx, workspaceID, ownerID, meterID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	if meter == nil {
		return 0, apperrors.NotFound("Meter")
	}

	password, err := s.generatePassword(ctx)
	if err != nil {
		return 0, err
	}

	var secret *model.PairingSecret
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.secretRepo.WithTx(tx)

		if _, err := repo.DeletePendingByMeter(ctx, workspaceID, meterID); err != nil {
			return fmt.Errorf("invalidate pending secret: %w", err)
		}

		secret, err = repo.Create(ctx, model.CreatePairingSecretParams{
			Password:    password,
			WorkspaceID: workspaceID,
			OwnerID:     ownerID,
			MeterID:     meterID,
			ExpiresAt:   time.Now().Add(s.ttl),
		})
		if err != nil {
			return fmt.Errorf("create pairing secret: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Database(err)
	}

	log.Info().
		Str("workspaceId", workspaceID).
		Str("meterId", meterID).
		Time("expiresAt", secret.ExpiresAt).
		Msg("pairing password created")

	return secret.Password, nil
}

// Redeem exchanges a one-time password for a meter credential. Absent,
// expired and already-used passwords all produce the same uniform
// negative, so a caller learns nothing about why redemption failed.
func (s *PairingService) Redeem(ctx context.Context, password int) (string, error) {
	secret, err := s.secretRepo.Redeem(ctx, password)
	if err != nil {
		log.Error().Err(err).Msg("redeem: database error")
		return "", apperrors.Database(err)
	}
	if secret == nil {
		log.Warn().Msg("redeem: no pending connection for password")
		return "", apperrors.PairingNotFound()
	}

	ident := model.DeviceIdentity{
		WorkspaceID: secret.WorkspaceID,
		OwnerID:     secret.OwnerID,
		MeterID:     secret.MeterID,
	}

	tokenString, err := s.issuer.IssueDevice(ident, config.DeviceTokenTTL)
	if err != nil {
		return "", apperrors.Internal("Failed to issue credential").WithCause(err)
	}

	// Single-use: the secret is gone the moment a credential exists.
	if err := s.secretRepo.Discard(ctx, secret.ID); err != nil {
		log.Error().Err(err).Str("secretId", secret.ID).Msg("redeem: discard failed")
	}

	log.Info().
		Str("workspaceId", secret.WorkspaceID).
		Str("meterId", secret.MeterID).
		Msg("pairing password redeemed")

	return tokenString, nil
}

func (s *PairingService) generatePassword(ctx context.Context) (int, error) {
	span := big.NewInt(passwordMax - passwordMin + 1)

	for attempts := 0; attempts < passwordAttempts; attempts++ {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return 0, apperrors.Internal("Failed to generate password").WithCause(err)
		}
		password := passwordMin + int(n.Int64())

		existing, err := s.secretRepo.FindByPassword(ctx, password)
		if err != nil {
			return 0, apperrors.Database(err)
		}
		if existing == nil {
			return password, nil
		}
	}

	return 0, apperrors.Conflict("Could not allocate a unique pairing password")
}
