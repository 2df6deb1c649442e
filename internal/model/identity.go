package model

// IdentityKind discriminates the two claim shapes a relay credential
// may carry. A meter never holds user claims and vice versa.
type IdentityKind string

const (
	IdentityKindDevice IdentityKind = "device"
	IdentityKindUser   IdentityKind = "user"
)

// DeviceIdentity is minted when a pairing password is redeemed and is
// immutable for the lifetime of the credential.
type DeviceIdentity struct {
	WorkspaceID string `json:"workspaceId"`
	OwnerID     string `json:"ownerId"`
	MeterID     string `json:"meterId"`
}

// UserIdentity identifies a subscriber. OwnerID is the routing topic
// key on the distribution channel; device credentials minted at pairing
// carry the same owner id, so both channels route on one value.
type UserIdentity struct {
	OwnerID string `json:"ownerId"`
	Email   string `json:"email"`
}

// Identity is the tagged union carried in a session entry. Exactly one
// of Device/User is set, matching Kind; it is resolved once at
// connect-time verification and never re-inspected per event.
type Identity struct {
	Kind   IdentityKind
	Device *DeviceIdentity
	User   *UserIdentity
}

func DeviceIdent(d DeviceIdentity) Identity {
	return Identity{Kind: IdentityKindDevice, Device: &d}
}

func UserIdent(u UserIdentity) Identity {
	return Identity{Kind: IdentityKindUser, User: &u}
}
