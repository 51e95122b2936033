package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := New(CodeNotFound, "client missing")
	if !errors.Is(err, New(CodeNotFound, "other message")) {
		t.Fatal("expected code-based match")
	}
	if errors.Is(err, New(CodeConflict, "client missing")) {
		t.Fatal("expected mismatch on different code")
	}
}

func TestCodeOfTraversesWrappedChain(t *testing.T) {
	t.Parallel()

	inner := New(CodeConflict, "duplicate email")
	wrapped := fmt.Errorf("create client: %w", inner)
	if got := CodeOf(wrapped); got != CodeConflict {
		t.Fatalf("code = %q, want %q", got, CodeConflict)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want int
	}{
		{CodeClientInvalidEmail, http.StatusBadRequest},
		{CodeInvalidPublicID, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeStorageUnavailable, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s status = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk io")
	err := Wrap(CodeStorageUnavailable, "open store", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
}
