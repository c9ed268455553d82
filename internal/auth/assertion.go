package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tellerline.org/internal/credentials"
	"tellerline.org/internal/roles"
)

const (
	defaultIssuer = "tellerline"
	clockSkew     = 5 * time.Second
)

// ErrInvalidToken indicates the assertion failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed form of a Principal.
type Claims struct {
	Role     int    `json:"role"`
	PersonID *int64 `json:"person_id,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 principal assertions. The enclosing web
// layer hands the assertion back on each request to find the principal's
// session without re-authenticating.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SignerOption configures Signer.
type SignerOption func(*Signer)

func WithIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner requires a non-empty secret and a positive ttl.
func NewSigner(secret string, ttl time.Duration, opts ...SignerOption) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("assertion secret is not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be greater than zero")
	}
	s := &Signer{secret: []byte(secret), issuer: defaultIssuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns the signed assertion and its expiry.
func (s *Signer) Sign(p Principal) (string, time.Time, error) {
	if !p.Realm.Valid() || p.ID <= 0 {
		return "", time.Time{}, errors.New("principal is incomplete")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role:     int(p.Role),
		PersonID: p.PersonID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.Subject(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign assertion: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and claims and returns the asserted principal.
func (s *Signer) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithLeeway(clockSkew), jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	realm, id, err := ParseSubject(claims.Subject)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	role := roles.RoleID(claims.Role)
	if !role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	if realm == credentials.RealmEmployee && role != roles.RoleEmployee {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Realm: realm, ID: id, Role: role, PersonID: claims.PersonID, Username: claims.Username}, nil
}
