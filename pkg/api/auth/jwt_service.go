package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// Defaults applied by NewJWTService when the config leaves them zero.
const (
	defaultIssuer          = "stagefs"
	defaultAccessLifetime  = 15 * time.Minute
	defaultRefreshLifetime = 7 * 24 * time.Hour

	// minSecretLength rejects HMAC keys too short to resist brute force.
	minSecretLength = 32
)

// JWTConfig holds configuration for JWT token generation.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim.
	Issuer string

	// AccessTokenDuration is the lifetime of access tokens.
	AccessTokenDuration time.Duration

	// RefreshTokenDuration is the lifetime of refresh tokens.
	RefreshTokenDuration time.Duration
}

// JWTService issues and validates admin token pairs.
type JWTService struct {
	config    JWTConfig
	secret    []byte
	parseOpts []jwt.ParserOption
}

// TokenPair contains both access and refresh tokens.
type TokenPair struct {
	// AccessToken is the short-lived token for API authorization.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived token for obtaining new access tokens.
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`

	// ExpiresAt is the access token expiration time.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewJWTService creates a new JWT service with the given configuration.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if len(config.Secret) < minSecretLength {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = defaultIssuer
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = defaultAccessLifetime
	}
	if config.RefreshTokenDuration == 0 {
		config.RefreshTokenDuration = defaultRefreshLifetime
	}

	return &JWTService{
		config: config,
		secret: []byte(config.Secret),
		// The parser enforces algorithm, issuer and expiry, so
		// ValidateToken never has to inspect the header by hand.
		parseOpts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(config.Issuer),
			jwt.WithExpirationRequired(),
		},
	}, nil
}

// GenerateTokenPair issues an access/refresh pair for the given account.
func (s *JWTService) GenerateTokenPair(username, role string) (*TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(s.config.AccessTokenDuration)

	accessToken, err := s.signToken(username, role, TokenTypeAccess, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.signToken(username, role, TokenTypeRefresh, now, now.Add(s.config.RefreshTokenDuration))
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenDuration.Seconds()),
		ExpiresAt:    accessExpiry,
	}, nil
}

func (s *JWTService) signToken(username, role string, tokenType TokenType, issuedAt, expiresAt time.Time) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username:  username,
		Role:      role,
		TokenType: tokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", ErrTokenSigningFailed
	}
	return signed, nil
}

// ValidateToken parses and verifies a token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, s.parseOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccessToken validates a token and ensures it is an access token.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validateTyped(tokenString, TokenTypeAccess)
}

// ValidateRefreshToken validates a token and ensures it is a refresh token.
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validateTyped(tokenString, TokenTypeRefresh)
}

func (s *JWTService) validateTyped(tokenString string, want TokenType) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// GetAccessTokenDuration returns the configured access token duration.
func (s *JWTService) GetAccessTokenDuration() time.Duration {
	return s.config.AccessTokenDuration
}
