package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer names the issuer of board session tokens.
	DefaultIssuer = "stickyboard"
	// DefaultAudience names the audience of board session tokens.
	DefaultAudience = "stickyboard-api"
)

var (
	// ErrInvalidPassword indicates that the supplied shared password did not match.
	ErrInvalidPassword = errors.New("auth: invalid password")

	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
)

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SharedPassword string
	SigningSecret  []byte
	Issuer         string
	Audience       string
	TokenTTL       time.Duration
	Clock          func() time.Time
}

// IssuedSession describes a freshly minted session token.
type IssuedSession struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// TokenIssuer exchanges the shared board password for signed session tokens.
type TokenIssuer struct {
	passwordDigest [sha256.Size]byte
	gated          bool
	signingSecret  []byte
	issuer         string
	audience       string
	ttl            time.Duration
	clock          func() time.Time
}

// NewTokenIssuer validates configuration and constructs a TokenIssuer. An empty
// shared password leaves the board open.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, errNonPositiveTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		passwordDigest: sha256.Sum256([]byte(cfg.SharedPassword)),
		gated:          cfg.SharedPassword != "",
		signingSecret:  append([]byte(nil), cfg.SigningSecret...),
		issuer:         issuer,
		audience:       audience,
		ttl:            cfg.TokenTTL,
		clock:          clock,
	}, nil
}

// Gated reports whether a password is required to use the board.
func (i *TokenIssuer) Gated() bool {
	return i != nil && i.gated
}

// Login checks password in constant time and issues a session token.
func (i *TokenIssuer) Login(password string) (IssuedSession, error) {
	supplied := sha256.Sum256([]byte(password))
	if i.gated && subtle.ConstantTimeCompare(supplied[:], i.passwordDigest[:]) != 1 {
		return IssuedSession{}, ErrInvalidPassword
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	sessionID := uuid.NewString()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return IssuedSession{}, err
	}
	return IssuedSession{Token: signed, SessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}
