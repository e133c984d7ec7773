package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles known to the pipeline. Rooms on the notification bus use the same labels.
const (
	RoleAuthority = "authority"
	RoleVolunteer = "volunteer"
	RoleCitizen   = "citizen"
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the validated identity the identity service vouches for.
type Principal struct {
	ActorID string
	Role    string
}

// Anonymous reports whether no identity was established for the request.
func (p Principal) Anonymous() bool { return p.ActorID == "" }

// HasRole reports whether the principal holds any of roles.
func (p Principal) HasRole(roles ...string) bool {
	if p.Role == "" {
		return false
	}
	for _, r := range roles {
		if NormalizeRole(r) == p.Role {
			return true
		}
	}
	return false
}

// NormalizeRole lower-cases and trims a role label.
func NormalizeRole(role string) string {
	return strings.TrimSpace(strings.ToLower(role))
}

// Authenticator resolves a bearer token into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// Claims are the JWT claims minted by the identity service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens signed with a secret shared with the identity service.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTAuthenticator builds a verifier; issuer may be empty to skip the iss check.
func NewJWTAuthenticator(secret, issuer string) (*JWTAuthenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret is not configured")
	}
	return &JWTAuthenticator{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{ActorID: subject, Role: NormalizeRole(claims.Role)}, nil
}

// SignToken mints a token the way the identity service does. Used by tests and the stress tool.
func SignToken(secret, issuer, actorID, role string, ttl time.Duration) (string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", errors.New("actorID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := Claims{
		Role: NormalizeRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Static resolves fixed tokens, for local development without an identity service.
type Static map[string]Principal

func (s Static) Authenticate(_ context.Context, token string) (Principal, error) {
	p, ok := s[strings.TrimSpace(token)]
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	p.Role = NormalizeRole(p.Role)
	return p, nil
}
