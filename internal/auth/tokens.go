// Package auth verifies bearer credentials for the realtime gateway, authorizes
// role-gated actions and throttles per-user request volume independently of the
// admission governor.
package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, mis-signed or expired.
	ErrInvalidToken = errors.New("invalid token")
)

// Roles carried in token claims.
const (
	RoleAdmin    = "admin"
	RoleGuardian = "guardian"
	RoleDriver   = "driver"
)

// UserClaims holds the JWT claims of an authenticated user. LinkedChildIDs is
// populated for guardians, VehicleID for drivers.
type UserClaims struct {
	jwt.RegisteredClaims
	Role           string   `json:"role"`
	Name           string   `json:"name,omitempty"`
	LinkedChildIDs []string `json:"linked_child_ids,omitempty"`
	VehicleID      string   `json:"vehicle_id,omitempty"`
}

// UserID returns the subject claim.
func (c *UserClaims) UserID() string { return c.Subject }

// TokenProvider issues and validates JWTs using RS256 or ES256 (private/public key).
// Issuing requires the private key and is used by tests and local tooling; the
// gateway only validates.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewTokenProvider returns a TokenProvider. privateKey may be nil for a
// validate-only provider.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

// Issue signs a token for the given claims identity. Role-specific fields are
// taken from the template claims; registered claims are filled in here.
func (p *TokenProvider) Issue(userID string, template UserClaims) (string, error) {
	if p.privateKey == nil {
		return "", ErrInvalidToken
	}
	now := time.Now().UTC()
	claims := template
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
	}
	return p.sign(&claims)
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// Validate parses and validates a token (signature, exp, iss, aud) and returns
// its claims.
func (p *TokenProvider) Validate(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return nil, ErrInvalidToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
