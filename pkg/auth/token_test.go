package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/mirae-labs/sajuflow-backend/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "sajuflow-test"}
}

func TestMintAndParseSessionToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	signed, err := MintSessionToken(cfg, now, "user_abc", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseSessionToken(cfg, signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID() != "user_abc" {
		t.Fatalf("expected subject user_abc, got %q", claims.UserID())
	}
	if claims.Issuer != "sajuflow-test" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestParseSessionTokenRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	signed, err := MintSessionToken(testJWTConfig(), now, "user_abc", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ParseSessionToken(config.JWTConfig{Secret: "other", Issuer: "sajuflow-test"}, signed); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseSessionTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := MintSessionToken(cfg, time.Now().Add(-2*time.Hour), "user_abc", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err = ParseSessionToken(cfg, signed)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestMintSessionTokenRequiresSecret(t *testing.T) {
	if _, err := MintSessionToken(config.JWTConfig{}, time.Now(), "user_abc", time.Hour); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
