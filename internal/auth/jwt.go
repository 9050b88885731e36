package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
)

// ErrUnauthenticated is returned for every credential failure. The cause
// (bad signature, expiry, wrong type) is deliberately not distinguished so
// the error cannot be used as an oracle.
var ErrUnauthenticated = errors.New("unauthenticated")

const roleDevice = "device"

// Claims are the claims carried by a relay bearer token.
type Claims struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates device bearer tokens. Token issuance lives in the
// pairing service; the generate helper here exists for tests and tooling.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator with the given HMAC secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// GenerateDeviceToken mints a device token for the given identity.
func (a *Authenticator) GenerateDeviceToken(deviceID, userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		DeviceID: deviceID,
		UserID:   userID,
		Role:     roleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateDeviceToken checks signature, expiry, and the device type tag,
// returning the validated identity. All failures map to ErrUnauthenticated.
func (a *Authenticator) ValidateDeviceToken(tokenString string) (entities.DeviceIdentity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return entities.DeviceIdentity{}, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Role != roleDevice || claims.DeviceID == "" {
		return entities.DeviceIdentity{}, ErrUnauthenticated
	}

	return entities.DeviceIdentity{
		DeviceID: claims.DeviceID,
		UserID:   claims.UserID,
	}, nil
}
