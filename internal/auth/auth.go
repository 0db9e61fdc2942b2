package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 30 * 24 * time.Hour

// Identity issues and checks device identifiers. A device id is a random uuid
// handed to the client inside a signed token; the client keeps the token and
// presents it on every request, which makes the id stable across sessions
// without any account.
type Identity struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIdentity(secret string, ttl time.Duration) *Identity {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Identity{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Identity) TTL() time.Duration {
	return i.ttl
}

// NewDevice mints a fresh device id and its token.
func (i *Identity) NewDevice() (deviceID string, token string, err error) {
	deviceID = uuid.NewString()
	token, err = i.GenerateToken(deviceID)
	return deviceID, token, err
}

func (i *Identity) GenerateToken(deviceID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{
			"sub": deviceID,
			"iat": i.now().Unix(),
			"exp": i.now().Add(i.ttl).Unix(),
		})

	return token.SignedString(i.secret)
}

// CheckToken returns the device id carried by tokenString.
func (i *Identity) CheckToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	deviceID, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(deviceID); err != nil {
		return "", fmt.Errorf("invalid device id: %w", err)
	}
	return deviceID, nil
}

// GetOrCreateDeviceID returns the device behind tokenString, or a new device
// when the token is missing or no longer valid. fresh reports the latter.
func (i *Identity) GetOrCreateDeviceID(tokenString string) (deviceID, token string, fresh bool, err error) {
	if tokenString != "" {
		if deviceID, err := i.CheckToken(tokenString); err == nil {
			return deviceID, tokenString, false, nil
		}
	}
	deviceID, token, err = i.NewDevice()
	return deviceID, token, true, err
}
