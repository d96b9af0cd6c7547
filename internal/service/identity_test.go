package service

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"chat_web/internal/utils"
)

func TestCredentials_Token(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{"auth payload wins", Credentials{AuthPayload: "a", HandshakeHeader: "Bearer b", RequestHeader: "Bearer c"}, "a"},
		{"auth payload with bearer prefix", Credentials{AuthPayload: "Bearer a"}, "a"},
		{"handshake header", Credentials{HandshakeHeader: "Bearer b", RequestHeader: "Bearer c"}, "b"},
		{"legacy request header", Credentials{RequestHeader: "bearer c"}, "c"},
		{"handshake header without scheme falls through", Credentials{HandshakeHeader: "b", RequestHeader: "Bearer c"}, "c"},
		{"empty bearer", Credentials{HandshakeHeader: "Bearer "}, ""},
		{"nothing", Credentials{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Token(); got != tt.want {
				t.Errorf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	req.Header.Set("Authorization", "Bearer def")
	req.Header.Set("X-Authorization", "Bearer ghi")

	creds := CredentialsFromRequest(req)
	if creds.AuthPayload != "abc" || creds.HandshakeHeader != "Bearer def" || creds.RequestHeader != "Bearer ghi" {
		t.Errorf("CredentialsFromRequest() = %+v", creds)
	}
}

func TestIdentityVerifier_Authenticate(t *testing.T) {
	tokens := utils.NewTokenManager("secret", time.Hour)
	verifier := NewIdentityVerifier(tokens)

	valid, _ := tokens.GenerateToken("u1", "u1@example.com")
	noSubject, _ := tokens.GenerateToken("", "anon@example.com")
	expired, _ := utils.NewTokenManager("secret", -time.Hour).GenerateToken("u1", "u1@example.com")
	otherSecret, _ := utils.NewTokenManager("other", time.Hour).GenerateToken("u1", "u1@example.com")

	tests := []struct {
		name    string
		creds   Credentials
		want    string
		wantErr error
	}{
		{"valid payload token", Credentials{AuthPayload: valid}, "u1", nil},
		{"valid legacy header", Credentials{RequestHeader: "Bearer " + valid}, "u1", nil},
		{"missing", Credentials{}, "", ErrMissingCredential},
		{"garbage", Credentials{AuthPayload: "not-a-token"}, "", ErrInvalidCredential},
		{"expired", Credentials{HandshakeHeader: "Bearer " + expired}, "", ErrInvalidCredential},
		{"wrong secret", Credentials{AuthPayload: otherSecret}, "", ErrInvalidCredential},
		{"no subject", Credentials{AuthPayload: noSubject}, "", ErrMalformedCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.Authenticate(tt.creds)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %q, want %q", got, tt.want)
			}
		})
	}

	_, err := verifier.Authenticate(Credentials{AuthPayload: expired})
	if !errors.Is(err, utils.ErrExpiredToken) {
		t.Errorf("expired token error = %v, want it to wrap ErrExpiredToken", err)
	}
}
