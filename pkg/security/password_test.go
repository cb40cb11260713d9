package security_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/security"
)

func TestHashAndVerifyPassword(t *testing.T) {
	cfg := config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}

	hash, err := security.HashPassword("very-secure-password", cfg)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if hash == "" {
		t.Fatal("HashPassword returned empty string")
	}

	ok, err := security.VerifyPassword("very-secure-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword returned error for valid hash: %v", err)
	}
	if !ok {
		t.Fatal("VerifyPassword failed for the correct password")
	}

	ok, err = security.VerifyPassword("bogus-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword returned error for invalid password: %v", err)
	}
	if ok {
		t.Fatal("VerifyPassword returned true for incorrect password")
	}
}

func TestVerifyPasswordBadHash(t *testing.T) {
	if _, err := security.VerifyPassword("irrelevant", "not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestVerifyPasswordRejectsWrongVersion(t *testing.T) {
	cfg := config.PasswordConfig{ArgonMemoryKB: 8192, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}
	hash, err := security.HashPassword("certificate-issuer", cfg)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	tampered := strings.Replace(hash, "$v=19$", "$v=16$", 1)
	if _, err := security.VerifyPassword("certificate-issuer", tampered); !errors.Is(err, security.ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestValidatePassword(t *testing.T) {
	cases := map[string]error{
		"":                       security.ErrPasswordBlank,
		"          ":             security.ErrPasswordBlank,
		"short":                  security.ErrPasswordTooShort,
		"long-enough":            nil,
		strings.Repeat("x", 257): security.ErrPasswordTooLong,
		"pässwörd-with-üñíçødé":  nil,
	}
	for input, want := range cases {
		if got := security.ValidatePassword(input); !errors.Is(got, want) && got != want {
			t.Errorf("ValidatePassword(%q) = %v, want %v", input, got, want)
		}
	}
}
