package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "jifou-auth"
	defaultJWTAudience = "jifou-api"
)

var defaultJWTLeeway = 30 * time.Second

var (
	ErrTokenRevoked = errors.New("token revoked")
	ErrTokenInvalid = errors.New("invalid token")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore issues and validates HS256 bearer tokens.
// Logout is implemented through the revoker keyed by jti.
type JWTSessionStore struct {
	ttl     time.Duration
	secret  []byte
	revoker TokenRevoker

	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWTSessionStore builds a HS256 session store with default claim options.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker) (*JWTSessionStore, error) {
	return NewJWTSessionStoreWithOptions(secret, ttl, revoker, JWTOptions{})
}

// NewJWTSessionStoreWithOptions builds a HS256 session store with custom claim options.
func NewJWTSessionStoreWithOptions(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		ttl:      ttl,
		secret:   []byte(secret),
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// NewSession creates a signed JWT for the user ID.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// GetUserIDByToken validates a JWT and returns the subject.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return "", false, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return "", false, err
		}
		if revoked {
			return "", false, ErrTokenRevoked
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", false, errors.New("token subject missing")
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrTokenInvalid
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = ErrTokenInvalid
		}
		return claims, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, errors.New("token jti missing")
	}
	return claims, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
