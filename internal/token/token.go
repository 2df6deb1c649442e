package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	apperrors "github.com/aquaminds/meter-relay-go/internal/errors"
	"github.com/aquaminds/meter-relay-go/internal/model"
)

// Issuer signs and validates the two credential shapes used by the
// relay: meter (device) tokens minted at pairing redemption, and user
// tokens presented on the distribution channel.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

type deviceClaims struct {
	WorkspaceID string `json:"workspaceId"`
	OwnerID     string `json:"ownerId"`
	MeterID     string `json:"meterId"`
	jwt.RegisteredClaims
}

type userClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IssueDevice mints a meter credential valid for ttl. The embedded
// identity is immutable for the credential's lifetime.
func (i *Issuer) IssueDevice(ident model.DeviceIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := deviceClaims{
		WorkspaceID: ident.WorkspaceID,
		OwnerID:     ident.OwnerID,
		MeterID:     ident.MeterID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}
	return signed, nil
}

// IssueUser mints a subscriber credential valid for ttl.
func (i *Issuer) IssueUser(ident model.UserIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := userClaims{
		UID:   ident.OwnerID,
		Email: ident.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// VerifyDevice validates a meter credential. Malformed, badly signed
// and expired tokens all come back as INVALID_CREDENTIAL.
func (i *Issuer) VerifyDevice(tokenString string) (model.DeviceIdentity, error) {
	var claims deviceClaims
	if err := i.parse(tokenString, &claims); err != nil {
		return model.DeviceIdentity{}, err
	}

	if claims.WorkspaceID == "" || claims.OwnerID == "" || claims.MeterID == "" {
		return model.DeviceIdentity{}, apperrors.InvalidCredential(fmt.Errorf("missing device claims"))
	}

	return model.DeviceIdentity{
		WorkspaceID: claims.WorkspaceID,
		OwnerID:     claims.OwnerID,
		MeterID:     claims.MeterID,
	}, nil
}

// VerifyUser validates a subscriber credential.
func (i *Issuer) VerifyUser(tokenString string) (model.UserIdentity, error) {
	var claims userClaims
	if err := i.parse(tokenString, &claims); err != nil {
		return model.UserIdentity{}, err
	}

	if claims.UID == "" || claims.Email == "" {
		return model.UserIdentity{}, apperrors.InvalidCredential(fmt.Errorf("missing user claims"))
	}

	return model.UserIdentity{
		OwnerID: claims.UID,
		Email:   claims.Email,
	}, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return apperrors.InvalidCredential(err)
	}
	if !tok.Valid {
		return apperrors.InvalidCredential(fmt.Errorf("token not valid"))
	}
	return nil
}
