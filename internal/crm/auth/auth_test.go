package auth

import (
	"testing"
	"time"

	apperrors "github.com/hubline/crm/internal/platform/errors"
)

var testSecret = []byte("test-session-secret")

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	user := User{
		HubID: 7,
		Email: "Dana@Hub.IO",
		Name:  "Dana",
		Roles: []string{RoleCRM, RoleManager},
	}
	token, err := Issue(testSecret, user, time.Hour, fixedNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier, err := NewVerifier(testSecret, fixedNow)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.HubID != 7 || got.Email != "dana@hub.io" || got.Name != "Dana" {
		t.Fatalf("user = %+v", got)
	}
	if !got.HasRole(RoleManager) || got.HasRole(RoleAdmin) {
		t.Fatalf("roles = %v", got.Roles)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	token, err := Issue(testSecret, User{HubID: 1, Email: "a@x.com"}, time.Minute, fixedNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	later := func() time.Time { return fixedNow().Add(2 * time.Minute) }
	verifier, err := NewVerifier(testSecret, later)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := verifier.Verify(token); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := Issue(testSecret, User{HubID: 1, Email: "a@x.com"}, time.Hour, fixedNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verifier, err := NewVerifier([]byte("other-secret"), fixedNow)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := verifier.Verify(token); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestVerifyRejectsMissingClaims(t *testing.T) {
	t.Parallel()

	verifier, err := NewVerifier(testSecret, fixedNow)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if _, err := verifier.Verify(""); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("blank token err = %v", err)
	}

	noHub, err := Issue(testSecret, User{Email: "a@x.com"}, time.Hour, fixedNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(noHub); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("missing hub err = %v", err)
	}

	noEmail, err := Issue(testSecret, User{HubID: 3}, time.Hour, fixedNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(noEmail); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("missing email err = %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(nil, nil); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
