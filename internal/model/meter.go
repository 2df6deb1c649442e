package model

import (
	"time"
)

// Meter is the stored metadata for a physical water-quality meter.
// Every query is scoped by workspace and owner; a meter is never
// visible outside the owning account.
type Meter struct {
	ID          string     `db:"id" json:"id"`
	WorkspaceID string     `db:"workspace_id" json:"workspaceId"`
	OwnerID     string     `db:"owner_id" json:"ownerId"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description,omitempty"`
	Lat         *float64   `db:"lat" json:"lat,omitempty"`
	Lon         *float64   `db:"lon" json:"lon,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
}

type CreateMeterParams struct {
	WorkspaceID string
	OwnerID     string
	Name        string
	Description *string
	Lat         *float64
	Lon         *float64
}

type UpdateMeterParams struct {
	Name        *string
	Description *string
	Lat         *float64
	Lon         *float64
}
