package auth

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mustVerifier(t *testing.T, secret string) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestSignAndVerify(t *testing.T) {
	v := mustVerifier(t, "unit-test-secret")
	tok, err := v.Sign(42, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
}

func TestVerifyExpired(t *testing.T) {
	v := mustVerifier(t, "unit-test-secret")
	tok, err := v.Sign(1, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = v.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, err := mustVerifier(t, "other-secret").Sign(1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = mustVerifier(t, "unit-test-secret").Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func signRaw(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestVerifyRejectsClaims(t *testing.T) {
	v := mustVerifier(t, "s")
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))
	cases := []struct {
		name   string
		claims Claims
		want   error
	}{
		{"refresh token", Claims{Type: "refresh", RegisteredClaims: jwt.RegisteredClaims{Subject: "1", ExpiresAt: exp}}, ErrWrongTokenType},
		{"missing subject", Claims{Type: AccessToken, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}, ErrInvalidToken},
		{"username subject", Claims{Type: AccessToken, RegisteredClaims: jwt.RegisteredClaims{Subject: "tester", ExpiresAt: exp}}, ErrInvalidToken},
		{"no expiry", Claims{Type: AccessToken, RegisteredClaims: jwt.RegisteredClaims{Subject: strconv.Itoa(3)}}, ErrInvalidToken},
	}
	for _, c := range cases {
		if _, err := v.Verify(signRaw(t, c.claims)); !errors.Is(err, c.want) {
			t.Errorf("%s: err = %v, want %v", c.name, err, c.want)
		}
	}
}

func TestVerifyGarbage(t *testing.T) {
	v := mustVerifier(t, "s")
	for _, tok := range []string{"", "not.a.jwt", "abc"} {
		if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) err = %v", tok, err)
		}
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Error("expected error")
	}
}
