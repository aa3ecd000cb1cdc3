package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, mutate func(*JWTConfig)) *JWTService {
	t.Helper()

	config := JWTConfig{
		Secret:               "test-secret-key-must-be-32-chars!",
		Issuer:               "test-issuer",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
	}
	if mutate != nil {
		mutate(&config)
	}

	service, err := NewJWTService(config)
	if err != nil {
		t.Fatalf("NewJWTService failed: %v", err)
	}
	return service
}

func TestNewJWTServiceSecretLength(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr error
	}{
		{"valid secret", "test-secret-key-must-be-32-chars!", nil},
		{"empty secret", "", ErrInvalidSecretLength},
		{"short secret", "short", ErrInvalidSecretLength},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewJWTService(JWTConfig{Secret: tc.secret, Issuer: "test-issuer"})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("NewJWTService error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewJWTServiceDefaults(t *testing.T) {
	service, err := NewJWTService(JWTConfig{Secret: "test-secret-key-must-be-32-chars!"})
	if err != nil {
		t.Fatalf("NewJWTService failed: %v", err)
	}

	if got := service.GetAccessTokenDuration(); got != 15*time.Minute {
		t.Errorf("default access lifetime = %v, want 15m", got)
	}

	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := service.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Issuer != "stagefs" {
		t.Errorf("default issuer = %q, want stagefs", claims.Issuer)
	}
}

func TestGenerateTokenPair(t *testing.T) {
	service := newTestService(t, nil)

	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateTokenPair failed: %v", err)
	}

	if pair.AccessToken == "" {
		t.Error("Expected non-empty access token")
	}
	if pair.RefreshToken == "" {
		t.Error("Expected non-empty refresh token")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", pair.TokenType)
	}
	if want := int64(15 * time.Minute / time.Second); pair.ExpiresIn != want {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, want)
	}
}

func TestValidateAccessToken(t *testing.T) {
	service := newTestService(t, nil)

	pair, err := service.GenerateTokenPair("operator", "admin")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := service.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}

	if claims.Username != "operator" {
		t.Errorf("Username = %q, want operator", claims.Username)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
	if !claims.IsAdmin() {
		t.Error("Expected IsAdmin() to return true")
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("Issuer = %q, want test-issuer", claims.Issuer)
	}
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	service := newTestService(t, nil)

	_, err := service.ValidateAccessToken("invalid-token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenTypeMismatch(t *testing.T) {
	service := newTestService(t, nil)

	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}

	// A refresh token is not accepted where an access token is required,
	// and vice versa.
	if _, err := service.ValidateAccessToken(pair.RefreshToken); !errors.Is(err, ErrInvalidTokenType) {
		t.Errorf("access check error = %v, want ErrInvalidTokenType", err)
	}
	if _, err := service.ValidateRefreshToken(pair.AccessToken); !errors.Is(err, ErrInvalidTokenType) {
		t.Errorf("refresh check error = %v, want ErrInvalidTokenType", err)
	}
}

func TestValidateRefreshToken(t *testing.T) {
	service := newTestService(t, nil)

	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := service.ValidateRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ValidateRefreshToken failed: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Username = %q, want admin", claims.Username)
	}
	if claims.TokenType != TokenTypeRefresh {
		t.Errorf("TokenType = %q, want refresh", claims.TokenType)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	service := newTestService(t, nil)
	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}

	other := newTestService(t, func(c *JWTConfig) {
		c.Secret = "another-secret-key-of-32-chars!!!"
	})

	if _, err := other.ValidateToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	service := newTestService(t, nil)
	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}

	// Same secret, different issuer claim expected by the validator.
	other := newTestService(t, func(c *JWTConfig) {
		c.Issuer = "other-issuer"
	})

	if _, err := other.ValidateToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	service := newTestService(t, func(c *JWTConfig) {
		c.AccessTokenDuration = -1 * time.Minute
	})

	pair, err := service.GenerateTokenPair("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := service.ValidateToken(pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("error = %v, want ErrExpiredToken", err)
	}
}

func TestClaimsIsAdmin(t *testing.T) {
	tests := []struct {
		role     string
		expected bool
	}{
		{"admin", true},
		{"user", false},
		{"", false},
		{"Admin", false}, // case-sensitive
	}

	for _, tc := range tests {
		claims := &Claims{Role: tc.role}
		if claims.IsAdmin() != tc.expected {
			t.Errorf("IsAdmin() for role %q: expected %v, got %v", tc.role, tc.expected, claims.IsAdmin())
		}
	}
}
