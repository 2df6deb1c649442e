package model

import (
	"time"
)

// PairingSecret is a one-time numeric password binding a physical
// meter to a workspace and owner before it holds a durable credential.
// A secret is redeemable at most once and expires unredeemed after the
// configured pairing TTL.
type PairingSecret struct {
	ID          string     `db:"id" json:"id"`
	Password    int        `db:"password" json:"password"`
	WorkspaceID string     `db:"workspace_id" json:"workspaceId"`
	OwnerID     string     `db:"owner_id" json:"ownerId"`
	MeterID     string     `db:"meter_id" json:"meterId"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expiresAt"`
	RedeemedAt  *time.Time `db:"redeemed_at" json:"redeemedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

type CreatePairingSecretParams struct {
	Password    int
	WorkspaceID string
	OwnerID     string
	MeterID     string
	ExpiresAt   time.Time
}
