package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim of every session token the hub signs.
const TokenIssuer = "collection-hub"

// DefaultTokenTTL applies when GenerateJWT is given no lifetime.
const DefaultTokenTTL = time.Hour

var errNoSecret = errors.New("HUB_JWT_SECRET is required unless HUB_DEV_MODE is set " +
	"(generate one with: openssl rand -hex 32)")

var (
	secretOnce sync.Once
	secret     []byte
	secretErr  error
)

// Only HS256 tokens from this hub with an expiry are accepted.
var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(TokenIssuer),
	jwt.WithExpirationRequired(),
)

// Claims identifies the hub user a session token was issued to. The user id
// travels in the standard sub claim.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID is the id of the user the token was issued to.
func (c *Claims) UserID() string {
	return c.Subject
}

func devMode() bool {
	v := os.Getenv("HUB_DEV_MODE")
	return v == "true" || v == "1" || os.Getenv("GIN_MODE") == "debug"
}

// ValidateJWTSecret loads the signing secret from HUB_JWT_SECRET once. In dev
// mode a missing secret is replaced by a random one, so session tokens do not
// survive a restart. Call it at startup to fail fast.
func ValidateJWTSecret() error {
	secretOnce.Do(func() {
		s := os.Getenv("HUB_JWT_SECRET")
		switch {
		case s != "":
			if len(s) < 32 {
				slog.Warn("HUB_JWT_SECRET is shorter than 32 characters")
			}
			secret = []byte(s)
		case devMode():
			secret = []byte(rand.Text())
			slog.Warn("HUB_JWT_SECRET not set, using a random secret for this process")
		default:
			secretErr = errNoSecret
		}
	})
	return secretErr
}

func signingKey() ([]byte, error) {
	if err := ValidateJWTSecret(); err != nil {
		return nil, err
	}
	return secret, nil
}

// GenerateJWT signs a session token for a hub user. A zero ttl means
// DefaultTokenTTL.
func GenerateJWT(userID, username string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("session token needs a user id")
	}
	key, err := signingKey()
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ValidateJWT checks signature, algorithm, issuer and expiry and returns the
// claims of a session token.
func ValidateJWT(tokenString string) (*Claims, error) {
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	if _, err := tokenParser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid session token: no subject")
	}
	return claims, nil
}
