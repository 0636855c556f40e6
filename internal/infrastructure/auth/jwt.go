// Package auth validates the opaque credentials clients present on connect.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/domain/user"
)

// Claims is the token payload the platform's identity service signs.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier for tokens signed with the shared secret.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token, returning the authenticated identity.
// Every failure maps to auth_failed; the cause distinguishes expiry from
// tampering in logs only.
func (v *Verifier) Verify(tokenString string) (*user.Identity, error) {
	if tokenString == "" {
		return nil, domerrors.NewUnauthorizedError("missing credential")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(v.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domerrors.NewUnauthorizedError("credential expired").WithCause(err)
		}
		return nil, domerrors.NewUnauthorizedError("invalid credential").WithCause(err)
	}
	if !token.Valid {
		return nil, domerrors.NewUnauthorizedError("invalid credential")
	}
	if !claims.Active {
		return nil, domerrors.NewUnauthorizedError("account inactive")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, domerrors.NewUnauthorizedError("invalid subject").WithCause(err)
	}
	role := user.Role(claims.Role)
	if !role.Valid() {
		return nil, domerrors.NewUnauthorizedError("unknown role")
	}

	return &user.Identity{
		UserID:   userID,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     role,
		Active:   claims.Active,
	}, nil
}

// Sign mints a token for the identity, used by tests and local tooling.
func (v *Verifier) Sign(id *user.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		Username: id.Username,
		Email:    id.Email,
		Role:     string(id.Role),
		Active:   id.Active,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
